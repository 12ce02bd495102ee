package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrRecipientNotFound = errors.New("recipient not found")

type Recipient struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Directory resolves the user that owns an order to an e-mail recipient.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Recipient, error)
}

// StaticDirectory serves recipients from memory.
type StaticDirectory map[string]Recipient

func (d StaticDirectory) Lookup(_ context.Context, userID string) (Recipient, error) {
	r, ok := d[userID]
	if !ok {
		return Recipient{}, ErrRecipientNotFound
	}
	return r, nil
}

// HTTPDirectory reads GET {baseURL}/users/{id} from the user service.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[Recipient]
}

func NewHTTPDirectory(baseURL string, client *http.Client, log *zap.Logger) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	st := breakerSettings("user-directory", log)
	// A missing user is an answer, not an outage.
	st.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, ErrRecipientNotFound) }
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cb:      gobreaker.NewCircuitBreaker[Recipient](st),
	}
}

func (d *HTTPDirectory) Lookup(ctx context.Context, userID string) (Recipient, error) {
	return d.cb.Execute(func() (Recipient, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/users/"+url.PathEscape(userID), nil)
		if err != nil {
			return Recipient{}, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			return Recipient{}, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return Recipient{}, ErrRecipientNotFound
		case resp.StatusCode != http.StatusOK:
			return Recipient{}, fmt.Errorf("user service: unexpected status %d", resp.StatusCode)
		}
		var r Recipient
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return Recipient{}, fmt.Errorf("decode user: %w", err)
		}
		if r.Email == "" {
			return Recipient{}, ErrRecipientNotFound
		}
		if r.UserID == "" {
			r.UserID = userID
		}
		return r, nil
	})
}
