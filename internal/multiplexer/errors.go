package multiplexer

import "errors"

var errShortHeader = errors.New("multiplexer: short header read")

var errNoConn = errors.New("multiplexer: no connection to peer host")
