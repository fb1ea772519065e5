package models

import (
	"time"
)

// EmpathyLevel tunes how warmly a bot responds
type EmpathyLevel string

const (
	EmpathyCaring        EmpathyLevel = "EMPATHETIC_CARING"
	EmpathyUnderstanding EmpathyLevel = "WARM_UNDERSTANDING"
	EmpathyRational      EmpathyLevel = "COOL_RATIONAL"
)

// Valid reports whether e is a known empathy level
func (e EmpathyLevel) Valid() bool {
	switch e {
	case EmpathyCaring, EmpathyUnderstanding, EmpathyRational:
		return true
	}
	return false
}

// ToneLevel tunes the speaking style of a bot
type ToneLevel string

const (
	ToneCalm     ToneLevel = "CALM_SOFT"
	ToneFriendly ToneLevel = "CASUAL_FRIENDLY"
	ToneDirect   ToneLevel = "DIRECT_HONEST"
)

// Valid reports whether t is a known tone
func (t ToneLevel) Valid() bool {
	switch t {
	case ToneCalm, ToneFriendly, ToneDirect:
		return true
	}
	return false
}

// BotProfile is the persona a bot room answers with
type BotProfile struct {
	ID           uint         `json:"id" gorm:"primaryKey"`
	OwnerID      uint         `json:"ownerId" gorm:"not null;index"`
	Name         string       `json:"name" gorm:"size:100;not null"`
	Description  string       `json:"description" gorm:"type:text"`
	EmpathyLevel EmpathyLevel `json:"empathyLevel" gorm:"size:30"`
	Tone         ToneLevel    `json:"tone" gorm:"size:30"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// CreateBotProfileRequest defines a new persona
type CreateBotProfileRequest struct {
	Name         string       `json:"name" binding:"required"`
	Description  string       `json:"description"`
	EmpathyLevel EmpathyLevel `json:"empathyLevel"`
	Tone         ToneLevel    `json:"tone"`
}

// CreateBotRoomRequest opens a bot room from an existing profile or an inline one
type CreateBotRoomRequest struct {
	ProfileID uint                     `json:"profileId,omitempty"`
	Profile   *CreateBotProfileRequest `json:"profile,omitempty"`
}

// DefaultBotProfiles are the personas every user can start with
func DefaultBotProfiles() []CreateBotProfileRequest {
	return []CreateBotProfileRequest{
		{
			Name:         "Empathica",
			Description:  "A chatbot that listens deeply and provides warm, empathetic responses to help you feel understood.",
			EmpathyLevel: EmpathyCaring,
			Tone:         ToneCalm,
		},
		{
			Name:         "RationalMind",
			Description:  "A chatbot that gives logical, objective, and practical advice to help you solve problems.",
			EmpathyLevel: EmpathyRational,
			Tone:         ToneDirect,
		},
		{
			Name:         "MotivaBot",
			Description:  "A chatbot that encourages and motivates you with friendly, uplifting messages.",
			EmpathyLevel: EmpathyUnderstanding,
			Tone:         ToneFriendly,
		},
	}
}
