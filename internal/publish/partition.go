package publish

import "github.com/twmb/franz-go/pkg/kgo"

// Partition computes the target partition for a key: the sum of its
// first and last byte, modulo the partition count. This exact formula
// must be preserved byte-for-byte so existing consumers keep reading
// the same partitions after a collector upgrade.
func Partition(key []byte, partitionCount int) int {
	if len(key) == 0 || partitionCount <= 0 {
		return 0
	}
	sum := int(key[0]) + int(key[len(key)-1])
	return sum % partitionCount
}

// peerPartitioner implements kgo.Partitioner using the Partition
// formula above, keyed on each record's Key.
type peerPartitioner struct{}

// Partitioner is the franz-go partitioner wired into every producer
// client, replacing the default hash partitioner.
var Partitioner kgo.Partitioner = peerPartitioner{}

func (peerPartitioner) ForTopic(string) kgo.TopicPartitioner {
	return peerTopicPartitioner{}
}

type peerTopicPartitioner struct{}

func (peerTopicPartitioner) RequiresConsistency(*kgo.Record) bool { return true }

func (peerTopicPartitioner) Partition(r *kgo.Record, n int) int {
	return Partition(r.Key, n)
}
