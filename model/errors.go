package model

import "errors"

// None of these end a session. They are logged and counted where absorbed.
var (
	ErrFrameRouting      = errors.New("frame routing")
	ErrRecognizerStream  = errors.New("recognizer stream")
	ErrTranslation       = errors.New("translation")
	ErrSynthesis         = errors.New("synthesis")
	ErrCommitTimeout     = errors.New("commit timeout")
	ErrPersistence       = errors.New("persistence")
	ErrBroadcastDelivery = errors.New("broadcast delivery")
)
