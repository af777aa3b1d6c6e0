// Package content implements the typed message envelopes exchanged over the
// XMTP transport: the custom Intent/Actions pair used for inline buttons and
// the transport-owned types the agent needs to read or send.
//
// Every decoded payload is one variant of the closed Content union, so the
// dispatcher can switch on it exhaustively instead of sniffing type tags.
package content

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrProtocolViolation marks a malformed Intent or Actions payload.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnsupportedEncoding is returned when an envelope declares a
	// non UTF-8 encoding.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// EncodingUTF8 is the only encoding parameter the JSON codecs accept.
const EncodingUTF8 = "UTF-8"

// TypeID identifies a content type: authority + type name + version.
type TypeID struct {
	AuthorityID  string `json:"authorityId"`
	TypeID       string `json:"typeId"`
	VersionMajor int    `json:"versionMajor"`
	VersionMinor int    `json:"versionMinor"`
}

// String renders the id as "authority/type:major.minor".
func (t TypeID) String() string {
	return fmt.Sprintf("%s/%s:%d.%d", t.AuthorityID, t.TypeID, t.VersionMajor, t.VersionMinor)
}

// Key is the version-less lookup key used by the codec registry.
func (t TypeID) Key() string { return t.AuthorityID + "/" + t.TypeID }

// SameType reports whether both ids name the same authority and type.
func (t TypeID) SameType(other TypeID) bool {
	return t.AuthorityID == other.AuthorityID && t.TypeID == other.TypeID
}

// ParseTypeID parses the String form back into a TypeID.
func ParseTypeID(s string) (TypeID, error) {
	slash := strings.Index(s, "/")
	colon := strings.LastIndex(s, ":")
	if slash <= 0 || colon < slash+2 {
		return TypeID{}, fmt.Errorf("invalid content type %q", s)
	}
	major, minor, ok := strings.Cut(s[colon+1:], ".")
	if !ok {
		return TypeID{}, fmt.Errorf("invalid content type version %q", s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return TypeID{}, fmt.Errorf("invalid major version in %q: %w", s, err)
	}
	min, err := strconv.Atoi(minor)
	if err != nil {
		return TypeID{}, fmt.Errorf("invalid minor version in %q: %w", s, err)
	}
	return TypeID{
		AuthorityID:  s[:slash],
		TypeID:       s[slash+1 : colon],
		VersionMajor: maj,
		VersionMinor: min,
	}, nil
}

// Content type ids. Intent and Actions live under the coinbase.com
// authority (XIP-67 inline actions); the rest are owned by the transport.
var (
	TypeText                 = TypeID{AuthorityID: "xmtp.org", TypeID: "text", VersionMajor: 1}
	TypeReply                = TypeID{AuthorityID: "xmtp.org", TypeID: "reply", VersionMajor: 1}
	TypeGroupUpdated         = TypeID{AuthorityID: "xmtp.org", TypeID: "group_updated", VersionMajor: 1}
	TypeReaction             = TypeID{AuthorityID: "xmtp.org", TypeID: "reaction", VersionMajor: 1}
	TypeRemoteAttachment     = TypeID{AuthorityID: "xmtp.org", TypeID: "remoteStaticAttachment", VersionMajor: 1}
	TypeWalletSendCalls      = TypeID{AuthorityID: "xmtp.org", TypeID: "walletSendCalls", VersionMajor: 1}
	TypeTransactionReference = TypeID{AuthorityID: "xmtp.org", TypeID: "transactionReference", VersionMajor: 1}
	TypeIntent               = TypeID{AuthorityID: "coinbase.com", TypeID: "intent", VersionMajor: 1}
	TypeActions              = TypeID{AuthorityID: "coinbase.com", TypeID: "actions", VersionMajor: 1}
)

// EncodedContent is the generic envelope carried by the transport.
type EncodedContent struct {
	Type       TypeID            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Fallback   string            `json:"fallback,omitempty"`
	Content    []byte            `json:"content"`
}

// Content is the closed union of payloads the agent understands.
type Content interface {
	isContent()
}

// Text is a plain text message.
type Text struct {
	Text string
}

// Reply wraps another payload and points at the message it answers.
// Content is the decoded inner payload, usually Text.
type Reply struct {
	Reference        string
	ReferenceInboxID string
	Content          Content
}

// Intent is a user's tap on one offered action.
type Intent struct {
	ID       string         `json:"id"`
	ActionID string         `json:"actionId"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ActionStyle is the visual hint for one button.
type ActionStyle string

const (
	StylePrimary   ActionStyle = "primary"
	StyleSecondary ActionStyle = "secondary"
	StyleDanger    ActionStyle = "danger"
)

// Action is one offered button.
type Action struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Style    ActionStyle    `json:"style,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Actions is an offered menu of buttons.
type Actions struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Actions     []Action `json:"actions"`
}

// Inbox references one participant in a membership change.
type Inbox struct {
	InboxID string `json:"inboxId"`
}

// MetadataFieldChange is one group metadata edit.
type MetadataFieldChange struct {
	FieldName string `json:"fieldName"`
	OldValue  string `json:"oldValue,omitempty"`
	NewValue  string `json:"newValue"`
}

// GroupUpdated is the membership/metadata delta for one group event.
type GroupUpdated struct {
	InitiatedByInboxID   string                `json:"initiatedByInboxId,omitempty"`
	AddedInboxes         []Inbox               `json:"addedInboxes,omitempty"`
	RemovedInboxes       []Inbox               `json:"removedInboxes,omitempty"`
	MetadataFieldChanges []MetadataFieldChange `json:"metadataFieldChanges,omitempty"`
}

// Reaction is an emoji reaction on another message.
type Reaction struct {
	Reference string `json:"reference"`
	Action    string `json:"action"` // "added" or "removed"
	Content   string `json:"content"`
	Schema    string `json:"schema"` // "unicode", "shortcode", "custom"
}

// RemoteAttachment points at an encrypted file hosted elsewhere.
type RemoteAttachment struct {
	URL           string `json:"url"`
	ContentDigest string `json:"contentDigest,omitempty"`
	Filename      string `json:"filename,omitempty"`
	ContentLength int    `json:"contentLength,omitempty"`
	Scheme        string `json:"scheme,omitempty"`
}

// CallMetadata is the human readable description of one wallet call.
type CallMetadata struct {
	Description     string `json:"description"`
	TransactionType string `json:"transactionType"`
	Currency        string `json:"currency,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Decimals        string `json:"decimals,omitempty"`
	NetworkID       string `json:"networkId,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
	FaviconURL      string `json:"faviconUrl,omitempty"`
	Title           string `json:"title,omitempty"`
}

// WalletCall is one EVM call the user's wallet is asked to sign.
type WalletCall struct {
	To       string        `json:"to"`
	Data     string        `json:"data"`
	Value    string        `json:"value,omitempty"`
	Metadata *CallMetadata `json:"metadata,omitempty"`
}

// PaymasterService names the gas sponsorship endpoint.
type PaymasterService struct {
	URL string `json:"url"`
}

// WalletCapabilities carries optional wallet features.
type WalletCapabilities struct {
	PaymasterService *PaymasterService `json:"paymasterService,omitempty"`
}

// WalletSendCalls is the EIP-5792 style call request.
type WalletSendCalls struct {
	Version      string              `json:"version"`
	From         string              `json:"from"`
	ChainID      string              `json:"chainId"`
	Calls        []WalletCall        `json:"calls"`
	Capabilities *WalletCapabilities `json:"capabilities,omitempty"`
}

// TransactionReference is a user's claim that a transaction was sent.
type TransactionReference struct {
	Namespace string         `json:"namespace,omitempty"`
	NetworkID string         `json:"networkId"`
	Reference string         `json:"reference"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Unknown is any payload whose type has no registered codec.
type Unknown struct {
	Type     TypeID
	Fallback string
	Raw      []byte
}

func (Text) isContent()                 {}
func (Reply) isContent()                {}
func (Intent) isContent()               {}
func (Actions) isContent()              {}
func (GroupUpdated) isContent()         {}
func (Reaction) isContent()             {}
func (RemoteAttachment) isContent()     {}
func (WalletSendCalls) isContent()      {}
func (TransactionReference) isContent() {}
func (Unknown) isContent()              {}

// IsEmpty reports whether c carries nothing worth handling.
func IsEmpty(c Content) bool {
	switch v := c.(type) {
	case nil:
		return true
	case Text:
		return strings.TrimSpace(v.Text) == ""
	case Reply:
		return IsEmpty(v.Content)
	case Unknown:
		return len(v.Raw) == 0 && v.Fallback == ""
	default:
		return false
	}
}
