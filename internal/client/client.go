package client

import (
	"net"
	"time"

	"flowlog/internal/protocol"
	"flowlog/internal/record"
)

type Config struct {
	BrokerAddr string
	ClientID   string
}

type Client struct {
	Config Config
	conn   net.Conn
}

func NewClient(cfg Config) (*Client, error) {
	conn, err := net.DialTimeout("tcp", cfg.BrokerAddr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{Config: cfg, conn: conn}, nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Produce sends a batch of messages and returns the offset assigned to the
// first accepted message plus how many were accepted/deduplicated.
func (c *Client) Produce(messages []record.Message) (baseOffset uint64, accepted, duplicates uint32, err error) {
	if err := c.sendRequest(protocol.ApiKeyProduce, protocol.EncodeProduceRequest(messages)); err != nil {
		return 0, 0, 0, err
	}
	respBody, err := c.readResponse()
	if err != nil {
		return 0, 0, 0, err
	}
	return protocol.DecodeProduceResponse(respBody)
}

// FetchByOffset requests up to count messages starting at offset.
func (c *Client) FetchByOffset(offset uint64, count uint32) ([]protocol.FetchedMessage, error) {
	reqBody := protocol.EncodeOffsetCountRequest(offset, count)
	if err := c.sendRequest(protocol.ApiKeyFetchByOffset, reqBody); err != nil {
		return nil, err
	}
	respBody, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeFetchResponse(respBody)
}

// FetchByTimestamp requests up to count messages at or after timestamp
// (microseconds since the epoch).
func (c *Client) FetchByTimestamp(timestamp uint64, count uint32) ([]protocol.FetchedMessage, error) {
	reqBody := protocol.EncodeOffsetCountRequest(timestamp, count)
	if err := c.sendRequest(protocol.ApiKeyFetchByTimestamp, reqBody); err != nil {
		return nil, err
	}
	respBody, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeFetchResponse(respBody)
}

// FetchNext polls the next unread messages for a given consumer identity;
// the broker auto-commits the consumer's position to what it returns.
func (c *Client) FetchNext(consumerKind uint8, consumerID string, count uint32) ([]protocol.FetchedMessage, error) {
	reqBody := protocol.EncodeConsumerRequest(consumerKind, consumerID, count)
	if err := c.sendRequest(protocol.ApiKeyFetchNext, reqBody); err != nil {
		return nil, err
	}
	respBody, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeFetchResponse(respBody)
}

// CommitOffset stores a consumer's position explicitly, independent of FetchNext's auto-commit.
func (c *Client) CommitOffset(consumerKind uint8, consumerID string, offset uint64) error {
	reqBody := protocol.EncodeCommitOffsetRequest(consumerKind, consumerID, offset)
	if err := c.sendRequest(protocol.ApiKeyCommitOffset, reqBody); err != nil {
		return err
	}
	_, err := c.readResponse()
	return err
}

// sendRequest encodes and writes the request packet: [Size(4)] + [Header] + [Body].
func (c *Client) sendRequest(apiKey int16, body []byte) error {
	req := newRequestFrame(apiKey, c.Config.ClientID, body)
	_, err := c.conn.Write(req)
	return err
}

// readResponse reads the framed response packet and strips its header.
func (c *Client) readResponse() ([]byte, error) {
	return readResponseFrame(c.conn)
}
