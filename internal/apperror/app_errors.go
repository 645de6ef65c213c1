package apperror

import "errors"

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrGameFinished      = errors.New("game is already finished")
	ErrNotConnected      = errors.New("client is not connected")
	ErrAlreadyConnected  = errors.New("client is already connected")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrSendBufferFull    = errors.New("subscriber send buffer is full")
	ErrMissingGameID     = errors.New("game id is required")
)
