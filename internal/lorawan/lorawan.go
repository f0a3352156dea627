// Package lorawan activates the beacon on a LoRaWAN network (OTAA or ABP)
// through a Modem and hands back a Handle for unconfirmed uplinks.
//
// The join blocks until the network accepts the device; there is no retry
// limit. Configuration problems (missing keys, radio switched off) are
// reported immediately and never touch the network.
package lorawan

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDisabled           = errors.New("lorawan: radio disabled")
	ErrMissingCredentials = errors.New("lorawan: missing credentials")
	ErrJoinRejected       = errors.New("lorawan: join rejected")
	ErrUnsupportedMode    = errors.New("lorawan: unsupported activation mode")
)

type Mode int

const (
	OTAA Mode = iota
	ABP
)

func (m Mode) String() string {
	switch m {
	case OTAA:
		return "otaa"
	case ABP:
		return "abp"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "otaa" or "abp" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "otaa":
		return OTAA, nil
	case "abp":
		return ABP, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// Credentials are hex strings as printed on the network console. OTAA uses
// AppEUI and AppKey; ABP uses DevAddr and the two session keys.
type Credentials struct {
	AppEUI  string
	AppKey  string
	DevAddr string
	NwkSKey string
	AppSKey string
}

// missing lists the credential names mode needs but c lacks.
func (c Credentials) missing(mode Mode) []string {
	var out []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			out = append(out, name)
		}
	}
	switch mode {
	case OTAA:
		check("app_eui", c.AppEUI)
		check("app_key", c.AppKey)
	case ABP:
		check("dev_addr", c.DevAddr)
		check("nwk_skey", c.NwkSKey)
		check("app_skey", c.AppSKey)
	}
	return out
}

// Signal is a hardware enable input; gpio.Input satisfies it.
type Signal interface {
	Value() (bool, error)
}

// Static is a fixed enable signal, used when no pin is wired.
type Static bool

func (s Static) Value() (bool, error) { return bool(s), nil }

type Request struct {
	Mode        Mode
	Credentials Credentials
	// Enable gates the whole join; nil means enabled.
	Enable Signal
}

// Modem is the radio side of a join. Calls are serialized by the caller.
type Modem interface {
	// DevEUI reads the device identifier from the radio; no network traffic.
	DevEUI(ctx context.Context) (string, error)
	// JoinOTAA configures the OTAA keys and sends one join request.
	JoinOTAA(ctx context.Context, appEUI, appKey string) error
	// Joined reports whether the network has accepted the join. It returns
	// ErrJoinRejected when the last request definitively failed.
	Joined(ctx context.Context) (bool, error)
	// ActivateABP stores the pre-shared session locally.
	ActivateABP(ctx context.Context, devAddr, nwkSKey, appSKey string) error
	SetDataRate(ctx context.Context, dr int) error
	// Send transmits one unconfirmed uplink on port.
	Send(ctx context.Context, port int, payload []byte) error
	Close() error
}

type Phase int

const (
	NotJoined Phase = iota
	Joining
	Joined
	JoinFailed
)

func (p Phase) String() string {
	switch p {
	case NotJoined:
		return "not_joined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case JoinFailed:
		return "join_failed"
	default:
		return "unknown"
	}
}

// JoinState is the joiner's externally visible progress. Reason is set for
// JoinFailed.
type JoinState struct {
	Phase    Phase  `json:"phase"`
	Mode     string `json:"mode,omitempty"`
	DevEUI   string `json:"dev_eui,omitempty"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
}

func (s JoinState) String() string {
	if s.Phase == JoinFailed && s.Reason != "" {
		return s.Phase.String() + "(" + s.Reason + ")"
	}
	return s.Phase.String()
}

// MarshalText lets JoinState.Phase render by name in JSON status.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{NotJoined, Joining, Joined, JoinFailed} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("lorawan: unknown join phase %q", b)
}
