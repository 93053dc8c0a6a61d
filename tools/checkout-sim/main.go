// checkout-sim drives one purchase through the operator endpoints:
// create a product, wait for its stock to seed, fill a cart, check out,
// place the order, and follow the saga until it settles.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	var (
		productURL   = flag.String("product-url", getenv("PRODUCT_URL", "http://localhost:8084"), "product-service base url")
		inventoryURL = flag.String("inventory-url", getenv("INVENTORY_URL", "http://localhost:8083"), "inventory-service base url")
		cartURL      = flag.String("cart-url", getenv("CART_URL", "http://localhost:8085"), "cart-service base url")
		orderURL     = flag.String("order-url", getenv("ORDER_URL", "http://localhost:8081"), "order-service base url")
		paymentURL   = flag.String("payment-url", getenv("PAYMENT_URL", "http://localhost:8082"), "payment-service base url")
		userID       = flag.String("user", getenv("USER_ID", uuid.NewString()), "user id placing the order")
		name         = flag.String("name", getenv("PRODUCT_NAME", "sim widget"), "product name")
		priceCents   = flag.Int64("price-cents", 2500, "unit price in cents")
		stock        = flag.Int("stock", 10, "initial stock to seed")
		qty          = flag.Int("qty", 2, "quantity to buy")
		timeout      = flag.Duration("timeout", 60*time.Second, "max wait per settle step")
		opsGrpcAddr  = flag.String("ops-grpc-addr", getenv("ORDER_OPS_GRPC_ADDR", ""), "order-service ops grpc address (protogen builds only)")
	)
	flag.Parse()

	var product struct {
		ID       string `json:"id"`
		Currency string `json:"currency"`
	}
	err := postJSON(*productURL+"/ops/products", map[string]any{
		"name":          *name,
		"description":   "created by checkout-sim",
		"price_cents":   *priceCents,
		"currency":      "usd",
		"initial_stock": *stock,
	}, &product)
	if err != nil {
		fatal("create product: " + err.Error())
	}
	fmt.Printf("product=%s\n", product.ID)

	// Stock seeds asynchronously: product.created has to travel through
	// the outbox into Kafka and land in the inventory consumer.
	deadline := time.Now().Add(*timeout)
	for {
		var st struct {
			Available int `json:"available"`
		}
		err := getJSON(*inventoryURL+"/ops/stock?product="+product.ID, &st)
		if err == nil && st.Available >= *qty {
			fmt.Printf("stock available=%d\n", st.Available)
			break
		}
		if time.Now().After(deadline) {
			fatal("stock never seeded; is the outbox publisher running?")
		}
		time.Sleep(time.Second)
	}

	err = postJSON(*cartURL+"/ops/cart/items", map[string]any{
		"user_id":          *userID,
		"product_id":       product.ID,
		"quantity":         *qty,
		"unit_price_cents": *priceCents,
	}, nil)
	if err != nil {
		fatal("add cart item: " + err.Error())
	}

	var checkout struct {
		CheckoutID string `json:"checkout_id"`
		TotalCents int64  `json:"total_cents"`
		Items      []struct {
			ProductID      string `json:"product_id"`
			Quantity       int    `json:"quantity"`
			UnitPriceCents int64  `json:"unit_price_cents"`
		} `json:"items"`
	}
	err = postJSON(*cartURL+"/ops/cart/checkout", map[string]any{"user_id": *userID}, &checkout)
	if err != nil {
		fatal("checkout: " + err.Error())
	}
	fmt.Printf("checkout=%s total_cents=%d\n", checkout.CheckoutID, checkout.TotalCents)

	items := make([]map[string]any, 0, len(checkout.Items))
	for _, it := range checkout.Items {
		items = append(items, map[string]any{
			"product_id":       it.ProductID,
			"quantity":         it.Quantity,
			"unit_price_cents": it.UnitPriceCents,
		})
	}
	var order struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	err = postJSON(*orderURL+"/ops/orders", map[string]any{
		"user_id":  *userID,
		"currency": product.Currency,
		"items":    items,
	}, &order)
	if err != nil {
		fatal("place order: " + err.Error())
	}
	fmt.Printf("order=%s status=%s\n", order.OrderID, order.Status)

	last := order.Status
	deadline = time.Now().Add(*timeout)
	for last != "CONFIRMED" && last != "CANCELLED" {
		if time.Now().After(deadline) {
			fatal("order never settled; last status " + last)
		}
		time.Sleep(time.Second)

		var o struct {
			Status       string `json:"status"`
			CancelReason string `json:"cancel_reason"`
		}
		if err := getJSON(*orderURL+"/ops/orders?id="+order.OrderID, &o); err != nil {
			continue
		}
		if o.Status != last {
			last = o.Status
			fmt.Printf("order=%s status=%s", order.OrderID, last)
			if o.CancelReason != "" {
				fmt.Printf(" reason=%q", o.CancelReason)
			}
			fmt.Println()
		}
	}

	var pay struct {
		Status        string `json:"status"`
		Provider      string `json:"provider"`
		FailureReason string `json:"failure_reason"`
	}
	if err := getJSON(*paymentURL+"/ops/payments?order="+order.OrderID, &pay); err == nil {
		fmt.Printf("payment status=%s provider=%s", pay.Status, pay.Provider)
		if pay.FailureReason != "" {
			fmt.Printf(" reason=%q", pay.FailureReason)
		}
		fmt.Println()
	}

	grpcOutboxReport(*opsGrpcAddr)
}

func postJSON(url string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
