// Package gsm provides a driver for GSM/cellular modems built on top of the
// at package's Channel. It adds SIM/SMS semantics: capability detection,
// text and PDU mode SMS submission, and USSD sessions.
package gsm

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/warthog618/sms/encoding/pdumode"

	"github.com/cloudyourcar/atmodem/at"
	"github.com/cloudyourcar/atmodem/info"
)

// GSM decorates a Channel with GSM specific functionality.
type GSM struct {
	ch      *at.Channel
	sca     pdumode.SMSCAddress
	pduMode bool
}

// New creates a GSM driver over an already-opened Channel.
func New(ch *at.Channel) *GSM {
	return &GSM{ch: ch}
}

// SetSCA sets the SCA used when transmitting SMSs in PDU mode.
//
// This overrides the default set in the SIM.
func (g *GSM) SetSCA(sca pdumode.SMSCAddress) {
	g.sca = sca
}

// SetPDUMode sets the GSM driver to use PDU mode when transmitting SMSs.
//
// This must be called before Init.
func (g *GSM) SetPDUMode() {
	g.pduMode = true
}

// Init initialises the modem for GSM operation: it verifies +GSM support via
// GCAP, then sets text or PDU SMS mode and verbose (+CMEE=2) error reporting.
func (g *GSM) Init(ctx context.Context) error {
	resp, err := g.ch.Command(ctx, "+GCAP")
	if err != nil {
		return err
	}
	if ferr := at.IsFinalError(resp); ferr != nil {
		return errors.WithMessage(ferr, "+GCAP failed")
	}
	capabilities := make(map[string]bool)
	for _, l := range strings.Split(resp, "\n") {
		if info.HasPrefix(l, "+GCAP") {
			for _, cap := range strings.Split(info.TrimPrefix(l, "+GCAP"), ",") {
				capabilities[strings.TrimSpace(cap)] = true
			}
		}
	}
	if !capabilities["+CGSM"] {
		return ErrNotGSMCapable
	}

	cmds := []string{
		"+CMGF=1", // text mode
		"+CMEE=2", // textual errors
	}
	if g.pduMode {
		cmds[0] = "+CMGF=0" // pdu mode
	}
	for _, cmd := range cmds {
		resp, err := g.ch.Command(ctx, cmd)
		if err != nil {
			return err
		}
		if ferr := at.IsFinalError(resp); ferr != nil {
			return errors.WithMessagef(ferr, "%s failed", cmd)
		}
	}
	return nil
}

// SendSMS sends a text-mode SMS message to number.
//
// The mr (message reference) is returned on success.
func (g *GSM) SendSMS(ctx context.Context, number string, message string) (string, error) {
	if g.pduMode {
		return "", ErrWrongMode
	}
	resp, err := g.ch.SMSCommand(ctx, fmt.Sprintf(`+CMGS="%s"`, number), "> ", message)
	if err != nil {
		return "", err
	}
	if ferr := at.IsFinalError(resp); ferr != nil {
		return "", ferr
	}
	for _, l := range strings.Split(resp, "\n") {
		if info.HasPrefix(l, "+CMGS") {
			return strings.TrimSpace(info.TrimPrefix(l, "+CMGS")), nil
		}
	}
	return "", ErrMalformedResponse
}

// SendSMSPDU sends an SMS PDU in PDU mode.
//
// tpdu is the binary TPDU to be sent. The mr is returned on success.
func (g *GSM) SendSMSPDU(ctx context.Context, tpdu []byte) (string, error) {
	if !g.pduMode {
		return "", ErrWrongMode
	}
	pdu := pdumode.PDU{SMSC: g.sca, TPDU: tpdu}
	s, err := pdu.MarshalHexString()
	if err != nil {
		return "", err
	}
	resp, err := g.ch.SMSCommand(ctx, fmt.Sprintf("+CMGS=%d", len(tpdu)), "> ", s)
	if err != nil {
		return "", err
	}
	if ferr := at.IsFinalError(resp); ferr != nil {
		return "", ferr
	}
	for _, l := range strings.Split(resp, "\n") {
		if info.HasPrefix(l, "+CMGS") {
			return strings.TrimSpace(info.TrimPrefix(l, "+CMGS")), nil
		}
	}
	return "", ErrMalformedResponse
}

// USSD sends a USSD request and returns the network's response string, per
// 3GPP TS 27.007's +CUSD command. The request is always sent as
// +CUSD=1,"<req>",15; there is no way to cancel a session in progress.
func (g *GSM) USSD(ctx context.Context, req string) (string, error) {
	resp, err := g.ch.Command(ctx, `+CUSD=1,"%s",15`, req)
	if err != nil {
		return "", err
	}
	if ferr := at.IsFinalError(resp); ferr != nil {
		return "", ferr
	}
	return resp, nil
}

var (
	// ErrNotGSMCapable indicates that the modem does not support the GSM
	// command set, as determined from the GCAP response.
	ErrNotGSMCapable = errors.New("modem is not GSM capable")

	// ErrMalformedResponse indicates the modem returned a badly formed
	// response.
	ErrMalformedResponse = errors.New("modem returned malformed response")

	// ErrWrongMode indicates the GSM driver is configured for the wrong
	// SMS mode (text vs PDU) for the method called.
	ErrWrongMode = errors.New("modem is in the wrong mode")
)
