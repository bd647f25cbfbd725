package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestProducer_PublishAfterCloseIsDropped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewProducer([]string{"127.0.0.1:1"}, "orders", 4, zap.New(core))

	p.Publish([]byte("o1"), []byte("{}"))
	p.Close()
	p.Close()
	assert.NotPanics(t, func() { p.Publish([]byte("o1"), []byte("{}")) })

	assert.Len(t, p.inbox, 1)
	assert.Equal(t, 1, logs.FilterMessage("publish after close dropped").Len())
}
