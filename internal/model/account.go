package model

import "strings"

// AccountID uniquely identifies a configured groupware account.
type AccountID string

// Account describes one groupware account known to the engine.
type Account struct {
	// ID is the unique identifier for this account.
	ID AccountID `mapstructure:"id" yaml:"id"`

	// Email is the primary address of the account.
	Email string `mapstructure:"email" yaml:"email"`

	// DisplayName is the user-visible label for the account.
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`

	// ServerURL is the base URL of the groupware server's web service.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`

	// ServerVersion is the reported server version ("2.5.1"), empty
	// until the account has been confirmed.
	ServerVersion string `mapstructure:"server_version" yaml:"server_version"`

	// IMAPHost and IMAPPort locate the mailbox server for the inbound
	// update channel.
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`

	// IMAPTLS selects implicit TLS over STARTTLS.
	IMAPTLS bool `mapstructure:"imap_tls" yaml:"imap_tls"`

	// GABFolder is the mailbox folder holding address-book update
	// messages, empty if the server does not provide one.
	GABFolder string `mapstructure:"gab_folder" yaml:"gab_folder"`

	// SyncTimeFrame is the configured synchronization window.
	SyncTimeFrame SyncTimeFrame `mapstructure:"sync_time_frame" yaml:"sync_time_frame"`

	// SizeChecked records that the store-size advisory has run for
	// this account.
	SizeChecked bool `mapstructure:"size_checked" yaml:"size_checked"`

	// RejectedTimeFrame is a suggested window the user declined.
	// TimeFrameAll means none was declined.
	RejectedTimeFrame SyncTimeFrame `mapstructure:"rejected_time_frame" yaml:"rejected_time_frame"`
}

// Domain returns the mail-domain portion of the account's address,
// used as the sharing key for the address book.
func (a Account) Domain() string {
	if i := strings.LastIndex(a.Email, "@"); i >= 0 {
		return strings.ToLower(a.Email[i+1:])
	}
	return ""
}

// VersionAtLeast reports whether the account's confirmed server version
// is at least major.minor. Unknown versions report false.
func (a Account) VersionAtLeast(major, minor int) bool {
	parts := strings.SplitN(a.ServerVersion, ".", 3)
	if len(parts) < 2 {
		return false
	}
	maj, min := atoi(parts[0]), atoi(parts[1])
	if maj != major {
		return maj > major
	}
	return min >= minor
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}
