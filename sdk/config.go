package livelink

import (
	"strings"

	"github.com/livelink-dev/livelink/pkg/live/protocol"
)

const defaultModel = "models/gemini-2.0-flash-live-001"

// SessionConfig is the negotiated session configuration. It is sent as the
// setup frame on connect; mutations after connect go through ConfigUpdate.
type SessionConfig struct {
	ProjectID          string
	Model              string
	SystemInstructions string
	Voice              string

	GoogleGrounding     bool
	InputTranscription  bool
	OutputTranscription bool
	ProactiveAudio      bool
}

func (c SessionConfig) withDefaults() SessionConfig {
	c.ProjectID = strings.TrimSpace(c.ProjectID)
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" {
		c.Model = defaultModel
	}
	c.Voice = strings.TrimSpace(c.Voice)
	return c
}

// Validate enforces the caller contract for connect.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return NewInvalidRequestError("project id is required")
	}
	if voice := strings.TrimSpace(c.Voice); voice != "" && !protocol.ValidVoice(voice) {
		return NewInvalidRequestError("unknown voice " + voice)
	}
	return nil
}

func (c SessionConfig) setupFrame() protocol.ClientSetup {
	return protocol.ClientSetup{
		Type:               protocol.TypeSetup,
		ProtocolVersion:    protocol.ProtocolVersion1,
		ProjectID:          c.ProjectID,
		Model:              c.Model,
		SystemInstructions: c.SystemInstructions,
		Voice:              c.Voice,
		Features: protocol.SetupFeatures{
			GoogleGrounding:     c.GoogleGrounding,
			InputTranscription:  c.InputTranscription,
			OutputTranscription: c.OutputTranscription,
			ProactiveAudio:      c.ProactiveAudio,
		},
	}
}

// ConfigUpdate is a partial mutation of a SessionConfig. Nil fields are left
// untouched. Before the handshake an update only changes the next setup
// payload; while connected it is re-sent to the relay as a setup_update
// frame. ProjectID cannot change while connected.
type ConfigUpdate struct {
	ProjectID          *string
	Model              *string
	SystemInstructions *string
	Voice              *string

	GoogleGrounding     *bool
	InputTranscription  *bool
	OutputTranscription *bool
	ProactiveAudio      *bool
}

func (u ConfigUpdate) validate() error {
	if u.Voice != nil && !protocol.ValidVoice(strings.TrimSpace(*u.Voice)) {
		return NewInvalidRequestError("unknown voice " + strings.TrimSpace(*u.Voice))
	}
	return nil
}

func (u ConfigUpdate) applyTo(c SessionConfig) SessionConfig {
	if u.ProjectID != nil {
		c.ProjectID = strings.TrimSpace(*u.ProjectID)
	}
	if u.Model != nil {
		c.Model = strings.TrimSpace(*u.Model)
	}
	if u.SystemInstructions != nil {
		c.SystemInstructions = *u.SystemInstructions
	}
	if u.Voice != nil {
		c.Voice = strings.TrimSpace(*u.Voice)
	}
	if u.GoogleGrounding != nil {
		c.GoogleGrounding = *u.GoogleGrounding
	}
	if u.InputTranscription != nil {
		c.InputTranscription = *u.InputTranscription
	}
	if u.OutputTranscription != nil {
		c.OutputTranscription = *u.OutputTranscription
	}
	if u.ProactiveAudio != nil {
		c.ProactiveAudio = *u.ProactiveAudio
	}
	return c
}

// updateFrame builds a setup_update carrying only the changed fields.
func (u ConfigUpdate) updateFrame() protocol.ClientSetupUpdate {
	return protocol.ClientSetupUpdate{
		Type:                protocol.TypeSetupUpdate,
		Model:               u.Model,
		SystemInstructions:  u.SystemInstructions,
		Voice:               u.Voice,
		GoogleGrounding:     u.GoogleGrounding,
		InputTranscription:  u.InputTranscription,
		OutputTranscription: u.OutputTranscription,
		ProactiveAudio:      u.ProactiveAudio,
	}
}

func (u ConfigUpdate) empty() bool {
	return u.ProjectID == nil && u.Model == nil && u.SystemInstructions == nil &&
		u.Voice == nil && u.GoogleGrounding == nil && u.InputTranscription == nil &&
		u.OutputTranscription == nil && u.ProactiveAudio == nil
}
