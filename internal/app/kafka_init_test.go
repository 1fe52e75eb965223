package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(testConfig(), log.WithField("test", "kafka"))
	require.NoError(t, err)
	assert.Nil(t, producer)

	closeKafka(producer, log.WithField("test", "kafka"))
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker dial in short mode")
	}
	cfg := testConfig()
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}

	producer, err := initKafkaProducer(cfg, log.WithField("test", "kafka"))
	require.Error(t, err)
	assert.Nil(t, producer)
}
