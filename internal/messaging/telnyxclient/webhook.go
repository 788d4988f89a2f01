package telnyxclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VerifyWebhookSignature checks the Telnyx-Signature header: a hex
// HMAC-SHA256 of "<timestamp>.<body>" keyed by the webhook secret, with
// the timestamp no further than MaxSkew from now.
func (c *Client) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookSecret == "" {
		return errors.New("telnyxclient: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("telnyxclient: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("telnyxclient: invalid signature timestamp: %w", err)
	}
	if skew := time.Since(time.Unix(sec, 0)); skew > c.maxSkew || skew < -c.maxSkew {
		return fmt.Errorf("telnyxclient: signature timestamp skew %s exceeds limit", skew)
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("telnyxclient: missing signature header")
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	if !hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(actual)) {
		return errors.New("telnyxclient: signature mismatch")
	}
	return nil
}
