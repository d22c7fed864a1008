package solidauth

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNilParameter      = errors.New("nil parameter")
	ErrMissingPopupURI   = errors.New("missing popup URI")
	ErrMissingNavigator  = errors.New("no navigator configured")
	ErrMissingOpener     = errors.New("no window opener configured")
	ErrBodyNotReplayable = errors.New("request body cannot be replayed")
)
