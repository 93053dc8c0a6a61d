package registry

import (
	"strconv"

	"github.com/segmentio/kafka-go"
)

// TopicConfigs renders every registry topic, DLQ mirrors included, as a
// kafka-go TopicConfig ready for CreateTopics.
func (r *Registry) TopicConfigs() []kafka.TopicConfig {
	specs := r.Topics()
	out := make([]kafka.TopicConfig, 0, len(specs))
	for _, s := range specs {
		out = append(out, kafka.TopicConfig{
			Topic:             s.Name,
			NumPartitions:     s.Partitions,
			ReplicationFactor: s.ReplicationFactor,
			ConfigEntries: []kafka.ConfigEntry{
				{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(s.RetentionMS, 10)},
				{ConfigName: "cleanup.policy", ConfigValue: string(s.CleanupPolicy)},
				{ConfigName: "compression.type", ConfigValue: string(s.Compression)},
				{ConfigName: "max.message.bytes", ConfigValue: strconv.Itoa(s.MaxMessageBytes)},
				{ConfigName: "min.insync.replicas", ConfigValue: strconv.Itoa(s.MinInSyncReplicas)},
				{ConfigName: "segment.ms", ConfigValue: strconv.FormatInt(s.SegmentMS, 10)},
				{ConfigName: "segment.bytes", ConfigValue: strconv.FormatInt(s.SegmentBytes, 10)},
			},
		})
	}
	return out
}
