package mailbox

import (
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-imap/v2/imapclient"
)

// Config describes an IMAP account.
type Config struct {
	Host     string
	Port     int
	Security string // tls | starttls | none
	Username string
	Password string
}

// Dial connects to the server and logs in. opts may be nil.
func Dial(cfg Config, opts *imapclient.Options) (*imapclient.Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if opts == nil {
		opts = &imapclient.Options{}
	}
	if opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var (
		client *imapclient.Client
		err    error
	)
	switch cfg.Security {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap (%s): %w", cfg.Security, err)
	}
	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return client, nil
}
