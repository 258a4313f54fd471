package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rikapay/apps/gateway/internal/service/ports"
)

// HTTPSigner relays unsigned transactions to an external signing service
// that holds the operator key. The relay answers {"tx_hash": "0x..."}.
type HTTPSigner struct {
	url      string
	operator string
	client   *http.Client
}

func NewHTTPSigner(url, operator string, timeout time.Duration) (*HTTPSigner, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("signer url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSigner{url: url, operator: strings.TrimSpace(operator), client: &http.Client{Timeout: timeout}}, nil
}

func (s *HTTPSigner) SignAndSend(ctx context.Context, tx map[string]interface{}) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"from":        s.operator,
		"transaction": tx,
	})
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer unreachable: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read signer response: %w", err)
	}

	var reply struct {
		TxHash string `json:"tx_hash"`
		Error  string `json:"error"`
	}
	_ = json.Unmarshal(raw, &reply)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if reply.Error != "" {
			return "", errors.New(reply.Error)
		}
		return "", fmt.Errorf("signer returned status %d", resp.StatusCode)
	}
	if reply.Error != "" {
		return "", errors.New(reply.Error)
	}
	if strings.TrimSpace(reply.TxHash) == "" {
		return "", errors.New("signer response has no tx_hash")
	}
	return reply.TxHash, nil
}

var _ ports.TransactionSigner = (*HTTPSigner)(nil)
