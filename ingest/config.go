package ingest

import "time"

type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream carrying scanner records.
	StreamName string

	// DurableName prefixes the per-chain durable consumer names, so a
	// restarted instance resumes where it left off.
	DurableName string

	// SubjectPrefix is completed with the chain id, one subject per
	// watched chain.
	SubjectPrefix string

	// Workers is the size of the handling pool. QueueSize bounds the
	// decoded batches waiting for a worker.
	Workers   int
	QueueSize int

	// InstanceCount/InstanceID shard chains across deployments. A
	// chain belongs to this instance iff chainId mod count == id.
	InstanceCount int
	InstanceID    int

	// AckWait is how long the server waits before redelivering an
	// unacknowledged batch.
	AckWait time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		StreamName:    "OBRIDGE_TX",
		DurableName:   "maker",
		SubjectPrefix: "obridge.tx",
		Workers:       4,
		QueueSize:     256,
		InstanceCount: 1,
		InstanceID:    0,
		AckWait:       30 * time.Second,
	}
}
