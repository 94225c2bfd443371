package broker

import (
	"fmt"

	"flowlog/internal/partition"
	"flowlog/internal/protocol"
)

func (b *Broker) handleRequest(req *protocol.Request) ([]byte, error) {
	switch req.Header.ApiKey {
	case protocol.ApiKeyProduce:
		return b.handleProduce(req)
	case protocol.ApiKeyFetchByOffset:
		return b.handleFetchByOffset(req)
	case protocol.ApiKeyFetchByTimestamp:
		return b.handleFetchByTimestamp(req)
	case protocol.ApiKeyFetchNext:
		return b.handleFetchNext(req)
	case protocol.ApiKeyCommitOffset:
		return b.handleCommitOffset(req)
	default:
		return nil, fmt.Errorf("unknown api key: %d", req.Header.ApiKey)
	}
}

func (b *Broker) handleProduce(req *protocol.Request) ([]byte, error) {
	messages, err := protocol.DecodeProduceRequest(req.Body)
	if err != nil {
		return nil, err
	}

	result, err := b.Partition.Append(messages)
	if err != nil {
		return nil, err
	}

	var baseOffset uint64
	if len(result.Offsets) > 0 {
		baseOffset = result.Offsets[0]
	}
	return protocol.EncodeProduceResponse(baseOffset, uint32(len(result.Offsets)), uint32(result.Duplicates)), nil
}

func (b *Broker) handleFetchByOffset(req *protocol.Request) ([]byte, error) {
	offset, count, err := protocol.DecodeOffsetCountRequest(req.Body)
	if err != nil {
		return nil, err
	}

	messages, err := b.Partition.GetMessagesByOffset(offset, count)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeFetchResponse(messages), nil
}

func (b *Broker) handleFetchByTimestamp(req *protocol.Request) ([]byte, error) {
	timestamp, count, err := protocol.DecodeOffsetCountRequest(req.Body)
	if err != nil {
		return nil, err
	}

	messages, err := b.Partition.GetMessagesByTimestamp(timestamp, count)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeFetchResponse(messages), nil
}

func (b *Broker) handleFetchNext(req *protocol.Request) ([]byte, error) {
	kind, id, count, err := protocol.DecodeConsumerRequest(req.Body)
	if err != nil {
		return nil, err
	}
	consumer := partition.PollingConsumer{Kind: partition.ConsumerKind(kind), ID: id}

	messages, err := b.Partition.GetNextMessages(consumer, count)
	if err != nil {
		return nil, err
	}

	// NOTE(Danu): fetch-next auto-commits the consumer's position to the
	// last message handed back, matching a poll-and-acknowledge broker
	// policy; StoreConsumerOffset stays callable on its own for clients
	// that want to commit on a different cadence.
	if len(messages) > 0 {
		b.Partition.StoreConsumerOffset(consumer, messages[len(messages)-1].Offset)
	}
	return protocol.EncodeFetchResponse(messages), nil
}

func (b *Broker) handleCommitOffset(req *protocol.Request) ([]byte, error) {
	kind, id, offset, err := protocol.DecodeCommitOffsetRequest(req.Body)
	if err != nil {
		return nil, err
	}
	b.Partition.StoreConsumerOffset(partition.PollingConsumer{Kind: partition.ConsumerKind(kind), ID: id}, offset)
	return []byte{}, nil
}
