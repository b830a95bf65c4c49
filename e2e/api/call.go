// Package api holds what the e2e suite observes of the bot's platform calls.
package api

import (
	"fmt"
	"strings"
)

// Call is one OneBot action the bot performed.
type Call struct {
	Action string
	Params map[string]any
}

// Text flattens the segments of a send_group_msg call.
func (c Call) Text() string {
	segments, _ := c.Params["message"].([]any)
	var b strings.Builder
	for _, raw := range segments {
		seg, _ := raw.(map[string]any)
		data, _ := seg["data"].(map[string]any)
		switch seg["type"] {
		case "at":
			b.WriteString("@" + fmt.Sprint(data["qq"]))
		case "text":
			b.WriteString(fmt.Sprint(data["text"]))
		}
	}
	return b.String()
}

// Int reads a numeric parameter as sent over the wire.
func (c Call) Int(name string) int64 {
	v, _ := c.Params[name].(float64)
	return int64(v)
}
