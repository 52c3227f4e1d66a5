package session

import "errors"

var ErrUnknownUI = errors.New("session: unknown ui")
