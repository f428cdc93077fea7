package activation

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
	"github.com/studiodesk/studiodesk/internal/app/domain/client"
	"github.com/studiodesk/studiodesk/internal/app/metrics"
	"github.com/studiodesk/studiodesk/internal/app/storage"
	"github.com/studiodesk/studiodesk/internal/app/tokenstore"
	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

const (
	tokenBytes  = 32
	qrSize      = 256
	minPassword = 8
	minUsername = 3
)

var errInvalidToken = stderrors.New("token is invalid, expired or already used")

// Options configures token lifetimes and link generation.
type Options struct {
	PublicURL     string
	ActivationTTL time.Duration
	LoginTTL      time.Duration
}

// LoginRequest is a client portal login by password or by token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
	PWA      bool   `json:"pwa"`
}

// Service issues and checks passwordless client credentials.
type Service struct {
	tokens   tokenstore.Store
	accounts storage.ClientAccountStore
	clients  storage.ClientStore
	opts     Options
	log      *logger.Logger
	now      func() time.Time
}

// New creates an activation service.
func New(tokens tokenstore.Store, accounts storage.ClientAccountStore, clients storage.ClientStore, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("activation")
	}
	if opts.ActivationTTL <= 0 {
		opts.ActivationTTL = 7 * 24 * time.Hour
	}
	if opts.LoginTTL <= 0 {
		opts.LoginTTL = 30 * 24 * time.Hour
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Service{tokens: tokens, accounts: accounts, clients: clients, opts: opts, log: log, now: time.Now}
}

// HashToken returns the stored form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRawToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func wellFormed(raw string) bool {
	if len(raw) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// Link builds the activation URL for a raw token.
func (s *Service) Link(raw string) string {
	return s.opts.PublicURL + "/activate?" + url.Values{"token": {raw}}.Encode()
}

func (s *Service) ownedClient(ctx context.Context, ownerID, clientID string) (client.Client, error) {
	c, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return client.Client{}, errors.FromStore(err, "client", clientID)
	}
	if c.OwnerID != ownerID {
		return client.Client{}, errors.NotFound("client", clientID)
	}
	return c, nil
}

func (s *Service) put(ctx context.Context, c client.Client, kind activation.Kind, ttl time.Duration) (activation.Issued, error) {
	raw, err := newRawToken()
	if err != nil {
		return activation.Issued{}, errors.Internal("token generation failed", err)
	}
	now := s.now().UTC()
	tok := activation.Token{
		Hash:      HashToken(raw),
		ClientID:  c.ID,
		OwnerID:   c.OwnerID,
		Kind:      kind,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.tokens.Put(ctx, tok); err != nil {
		return activation.Issued{}, errors.Internal("store token", err)
	}
	return activation.Issued{Token: raw, ClientID: c.ID, ExpiresAt: tok.ExpiresAt, Link: s.Link(raw)}, nil
}

// Issue creates an activation token for one of the owner's clients. A
// non-positive ttl uses the configured default.
func (s *Service) Issue(ctx context.Context, ownerID, clientID string, ttl time.Duration) (activation.Issued, error) {
	c, err := s.ownedClient(ctx, ownerID, clientID)
	if err != nil {
		return activation.Issued{}, err
	}
	if ttl <= 0 {
		ttl = s.opts.ActivationTTL
	}
	issued, err := s.put(ctx, c, activation.KindActivation, ttl)
	if err != nil {
		return activation.Issued{}, err
	}
	metrics.RecordActivation("issued")
	s.log.WithField("owner_id", ownerID).
		WithField("client_id", clientID).
		WithField("expires_at", issued.ExpiresAt).
		Info("activation token issued")
	return issued, nil
}

// QR issues an activation token and renders its link as a PNG QR code.
func (s *Service) QR(ctx context.Context, ownerID, clientID string, ttl time.Duration) ([]byte, activation.Issued, error) {
	issued, err := s.Issue(ctx, ownerID, clientID, ttl)
	if err != nil {
		return nil, activation.Issued{}, err
	}
	png, err := qrcode.Encode(issued.Link, qrcode.Medium, qrSize)
	if err != nil {
		return nil, activation.Issued{}, errors.Internal("render qr code", err)
	}
	return png, issued, nil
}

// Verify resolves a raw token. Missing, expired and used tokens are rejected;
// expired ones are removed on the way.
func (s *Service) Verify(ctx context.Context, raw string) (activation.Token, error) {
	raw = strings.TrimSpace(raw)
	if !wellFormed(raw) {
		metrics.RecordActivation("rejected")
		return activation.Token{}, errors.InvalidToken(errInvalidToken)
	}
	hash := HashToken(raw)
	tok, err := s.tokens.Get(ctx, hash)
	if err != nil {
		metrics.RecordActivation("rejected")
		if stderrors.Is(err, storage.ErrNotFound) {
			return activation.Token{}, errors.InvalidToken(errInvalidToken)
		}
		return activation.Token{}, errors.Internal("load token", err)
	}
	if subtle.ConstantTimeCompare([]byte(tok.Hash), []byte(hash)) != 1 {
		metrics.RecordActivation("rejected")
		return activation.Token{}, errors.InvalidToken(errInvalidToken)
	}
	if tok.Expired(s.now()) {
		if err := s.tokens.Delete(ctx, hash); err != nil {
			s.log.WithError(err).Warn("delete expired token failed")
		}
		metrics.RecordActivation("rejected")
		return activation.Token{}, errors.InvalidToken(errInvalidToken)
	}
	if tok.Used {
		metrics.RecordActivation("rejected")
		return activation.Token{}, errors.InvalidToken(errInvalidToken)
	}
	return tok, nil
}

// Revoke deletes a single token. Unknown tokens are ignored.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	return s.tokens.Delete(ctx, HashToken(strings.TrimSpace(raw)))
}

// RevokeAll deletes every token of a client.
func (s *Service) RevokeAll(ctx context.Context, clientID string) (int, error) {
	n, err := s.tokens.DeleteByClient(ctx, clientID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("client_id", clientID).WithField("count", n).Info("client tokens revoked")
	}
	return n, nil
}

// RevokeForClient revokes all tokens of one of the owner's clients.
func (s *Service) RevokeForClient(ctx context.Context, ownerID, clientID string) (int, error) {
	if _, err := s.ownedClient(ctx, ownerID, clientID); err != nil {
		return 0, err
	}
	return s.RevokeAll(ctx, clientID)
}

// Activate turns an activation token into a portal account. The token is
// single use.
func (s *Service) Activate(ctx context.Context, raw, username, password string) (activation.Session, error) {
	tok, err := s.Verify(ctx, raw)
	if err != nil {
		return activation.Session{}, err
	}
	if tok.Kind != activation.KindActivation {
		return activation.Session{}, errors.InvalidToken(errInvalidToken)
	}
	username = strings.TrimSpace(username)
	if len(username) < minUsername {
		return activation.Session{}, errors.InvalidInput(fmt.Sprintf("username must be at least %d characters", minUsername))
	}
	if len(password) < minPassword {
		return activation.Session{}, errors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPassword))
	}

	c, err := s.clients.GetClient(ctx, tok.ClientID)
	if err != nil {
		return activation.Session{}, errors.FromStore(err, "client", tok.ClientID)
	}
	if _, err := s.accounts.GetClientAccountByClient(ctx, c.ID); err == nil {
		return activation.Session{}, errors.Conflict("client already has an account")
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return activation.Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return activation.Session{}, errors.Internal("hash password", err)
	}
	if err := s.tokens.MarkUsed(ctx, tok.Hash); err != nil {
		if stderrors.Is(err, storage.ErrConflict) || stderrors.Is(err, storage.ErrNotFound) {
			metrics.RecordActivation("rejected")
			return activation.Session{}, errors.InvalidToken(errInvalidToken)
		}
		return activation.Session{}, errors.Internal("mark token used", err)
	}
	acct, err := s.accounts.CreateClientAccount(ctx, activation.Account{
		ClientID:     c.ID,
		OwnerID:      c.OwnerID,
		Username:     username,
		PasswordHash: string(hash),
		Active:       true,
	})
	if err != nil {
		s.release(ctx, tok)
		return activation.Session{}, errors.FromStore(err, "account", username)
	}
	metrics.RecordActivation("activated")
	s.log.WithField("client_id", c.ID).WithField("username", username).Info("client account activated")

	return s.openSession(ctx, acct, c, "", false)
}

// release puts a claimed activation token back so the client can retry after
// a failed account creation.
func (s *Service) release(ctx context.Context, tok activation.Token) {
	tok.Used = false
	if err := s.tokens.Put(ctx, tok); err != nil {
		s.log.WithError(err).WithField("client_id", tok.ClientID).Warn("release activation token failed")
	}
}

// Login authenticates a client account by password or by a valid token bound
// to the same client.
func (s *Service) Login(ctx context.Context, req LoginRequest) (activation.Session, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return activation.Session{}, errors.Required("username")
	}
	if req.Password == "" && req.Token == "" {
		return activation.Session{}, errors.InvalidInput("password or token is required")
	}

	acct, err := s.accounts.GetClientAccountByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			metrics.RecordActivation("rejected")
			return activation.Session{}, errors.Unauthorized("invalid credentials")
		}
		return activation.Session{}, err
	}
	if !acct.Active {
		return activation.Session{}, errors.Forbidden("account is disabled")
	}
	if req.ClientID != "" && req.ClientID != acct.ClientID {
		metrics.RecordActivation("rejected")
		return activation.Session{}, errors.Unauthorized("invalid credentials")
	}

	presented := ""
	if req.Token != "" {
		tok, err := s.Verify(ctx, req.Token)
		if err != nil {
			return activation.Session{}, err
		}
		if tok.ClientID != acct.ClientID {
			metrics.RecordActivation("rejected")
			return activation.Session{}, errors.Unauthorized("token does not belong to this account")
		}
		presented = strings.TrimSpace(req.Token)
	} else if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)); err != nil {
		metrics.RecordActivation("rejected")
		return activation.Session{}, errors.Unauthorized("invalid credentials")
	}

	c, err := s.clients.GetClient(ctx, acct.ClientID)
	if err != nil {
		return activation.Session{}, errors.FromStore(err, "client", acct.ClientID)
	}
	metrics.RecordActivation("login")
	return s.openSession(ctx, acct, c, presented, req.PWA)
}

// LoginViaLink handles direct login links carrying username, client and
// token.
func (s *Service) LoginViaLink(ctx context.Context, username, clientID, token string, pwa bool) (activation.Session, error) {
	switch {
	case strings.TrimSpace(username) == "":
		return activation.Session{}, errors.Required("username")
	case strings.TrimSpace(clientID) == "":
		return activation.Session{}, errors.Required("client_id")
	case strings.TrimSpace(token) == "":
		return activation.Session{}, errors.Required("token")
	}
	return s.Login(ctx, LoginRequest{Username: username, ClientID: clientID, Token: token, PWA: pwa})
}

// openSession records the access and returns a session carrying either the
// presented token or a fresh login token.
func (s *Service) openSession(ctx context.Context, acct activation.Account, c client.Client, presented string, pwa bool) (activation.Session, error) {
	token := presented
	if token == "" {
		issued, err := s.put(ctx, c, activation.KindLogin, s.opts.LoginTTL)
		if err != nil {
			return activation.Session{}, err
		}
		token = issued.Token
	}
	if err := s.clients.RecordAccess(ctx, client.Access{ClientID: c.ID, At: s.now().UTC(), PWA: pwa}); err != nil {
		s.log.WithError(err).WithField("client_id", c.ID).Warn("record client access failed")
	}
	return activation.Session{
		AccountID: acct.ID,
		Username:  acct.Username,
		Type:      "client",
		ClientID:  c.ID,
		Client:    c,
		Token:     token,
	}, nil
}

// Authenticate resolves a client bearer token to its client.
func (s *Service) Authenticate(ctx context.Context, raw string) (client.Client, error) {
	tok, err := s.Verify(ctx, raw)
	if err != nil {
		return client.Client{}, err
	}
	c, err := s.clients.GetClient(ctx, tok.ClientID)
	if err != nil {
		return client.Client{}, errors.InvalidToken(errInvalidToken)
	}
	return c, nil
}

// Purge removes expired tokens from the store.
func (s *Service) Purge(ctx context.Context) (int, error) {
	n, err := s.tokens.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("expired client tokens purged")
	}
	return n, nil
}
