package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DownloadTicket identifies a rendered export artifact a client may
// fetch without a database lookup.
type DownloadTicket struct {
	JobID     string
	Format    string
	Path      string
	ExpiresAt time.Time
}

var (
	// ErrTicketMalformed marks tokens that do not parse at all.
	ErrTicketMalformed = errors.New("malformed download ticket")
	// ErrTicketSignature marks tokens whose signature does not verify.
	ErrTicketSignature = errors.New("download ticket signature mismatch")
	// ErrTicketExpired marks valid tickets past their deadline.
	ErrTicketExpired = errors.New("download ticket expired")
)

// TicketSigner mints and verifies HMAC-signed download tickets for
// export artifacts.
type TicketSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTicketSigner constructs a signer with the provided secret and TTL.
func NewTicketSigner(secret string, ttl time.Duration) *TicketSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TicketSigner{secret: []byte(secret), ttl: ttl}
}

// Mint signs a ticket for the given export job and artifact path.
func (s *TicketSigner) Mint(jobID, format, path string) (string, time.Time, error) {
	if jobID == "" || path == "" {
		return "", time.Time{}, fmt.Errorf("ticket requires a job id and artifact path")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("ticket signing secret missing")
	}
	expiresAt := time.Now().UTC().Add(s.ttl)
	fields := []string{
		jobID,
		format,
		strconv.FormatInt(expiresAt.Unix(), 10),
		base64.RawURLEncoding.EncodeToString([]byte(path)),
	}
	token := strings.Join(append(fields, s.sign(fields)), ".")
	return token, expiresAt, nil
}

// Verify checks a token and returns the embedded ticket. Expired
// tickets fail with ErrTicketExpired unless allowExpired is set, which
// cleanup routines use to resolve artifacts past their deadline.
func (s *TicketSigner) Verify(token string, allowExpired bool) (*DownloadTicket, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return nil, ErrTicketMalformed
	}
	fields, signature := parts[:4], parts[4]
	if !hmac.Equal([]byte(s.sign(fields)), []byte(signature)) {
		return nil, ErrTicketSignature
	}
	expUnix, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, ErrTicketMalformed
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(fields[3])
	if err != nil {
		return nil, ErrTicketMalformed
	}
	ticket := &DownloadTicket{
		JobID:     fields[0],
		Format:    fields[1],
		Path:      string(rawPath),
		ExpiresAt: time.Unix(expUnix, 0).UTC(),
	}
	if !allowExpired && time.Now().After(ticket.ExpiresAt) {
		return nil, ErrTicketExpired
	}
	return ticket, nil
}

func (s *TicketSigner) sign(fields []string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(fields, "\n")))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
