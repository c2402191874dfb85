package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 5 * time.Second

// Depositor delivers disbursements to the external economy over an HTTP
// webhook. A non-2xx response is a failed deposit and the engine retries on
// a later tick.
type Depositor struct {
	client *http.Client
	url    string
	logger *logrus.Logger
}

func NewDepositor(url string, logger *logrus.Logger) *Depositor {
	return &Depositor{
		client: &http.Client{Timeout: requestTimeout},
		url:    url,
		logger: logger,
	}
}

type depositRequest struct {
	Identity string  `json:"identity"`
	Amount   float64 `json:"amount"`
}

func (d *Depositor) Deposit(ctx context.Context, identity uuid.UUID, amount float64) error {
	body, err := json.Marshal(depositRequest{Identity: identity.String(), Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to encode deposit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build deposit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deposit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deposit rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Notifier posts best-effort progress messages to an optional webhook. With
// no URL configured it only logs; delivery failures are swallowed.
type Notifier struct {
	client *http.Client
	url    string
	logger *logrus.Logger
}

func NewNotifier(url string, logger *logrus.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: requestTimeout},
		url:    url,
		logger: logger,
	}
}

type notifyRequest struct {
	Identity string `json:"identity"`
	Message  string `json:"message"`
}

func (n *Notifier) Notify(identity uuid.UUID, message string) {
	if n.url == "" {
		n.logger.WithFields(logrus.Fields{
			"identity": identity,
			"message":  message,
		}).Debug("Progress notification (no webhook configured)")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		body, err := json.Marshal(notifyRequest{Identity: identity.String(), Message: message})
		if err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.logger.WithError(err).Debug("Progress notification delivery failed")
			return
		}
		resp.Body.Close()
	}()
}
