package extsource

import (
	"testing"

	"github.com/IBM/sarama"
)

type kafkaOrder struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

func TestJSONDecodeParsesMessageValue(t *testing.T) {
	decode := JSONDecode[kafkaOrder]()
	msg := &sarama.ConsumerMessage{Value: []byte(`{"id":"o-1","total":42}`)}

	got, err := decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "o-1" || got.Total != 42 {
		t.Errorf("got %+v, want {o-1 42}", got)
	}
}

func TestJSONDecodeRejectsMalformedValue(t *testing.T) {
	decode := JSONDecode[kafkaOrder]()
	msg := &sarama.ConsumerMessage{Value: []byte(`not json`)}

	if _, err := decode(msg); err == nil {
		t.Error("expected a decode error for malformed JSON")
	}
}
