package bgp

import "fmt"

// NOTIFICATION error codes (RFC 4271 §4.5, RFC 4486, RFC 7313).
const (
	ErrCodeMessageHeader     uint8 = 1
	ErrCodeOpenMessage       uint8 = 2
	ErrCodeUpdateMessage     uint8 = 3
	ErrCodeHoldTimerExpired  uint8 = 4
	ErrCodeFSM               uint8 = 5
	ErrCodeCease             uint8 = 6
)

var errCodeText = map[uint8]string{
	ErrCodeMessageHeader:    "Message Header Error",
	ErrCodeOpenMessage:      "OPEN Message Error",
	ErrCodeUpdateMessage:    "UPDATE Message Error",
	ErrCodeHoldTimerExpired: "Hold Timer Expired",
	ErrCodeFSM:              "Finite State Machine Error",
	ErrCodeCease:            "Cease",
}

var subcodeText = map[uint8]map[uint8]string{
	ErrCodeMessageHeader: {
		1: "Connection Not Synchronized",
		2: "Bad Message Length",
		3: "Bad Message Type",
	},
	ErrCodeOpenMessage: {
		1: "Unsupported Version Number",
		2: "Bad Peer AS",
		3: "Bad BGP Identifier",
		4: "Unsupported Optional Parameter",
		5: "Authentication Failure",
		6: "Unacceptable Hold Time",
		7: "Unsupported Capability",
	},
	ErrCodeUpdateMessage: {
		1:  "Malformed Attribute List",
		2:  "Unrecognized Well-known Attribute",
		3:  "Missing Well-known Attribute",
		4:  "Attribute Flags Error",
		5:  "Attribute Length Error",
		6:  "Invalid ORIGIN Attribute",
		7:  "AS Routing Loop",
		8:  "Invalid NEXT_HOP Attribute",
		9:  "Optional Attribute Error",
		10: "Invalid Network Field",
		11: "Malformed AS_PATH",
	},
	ErrCodeFSM: {
		1: "Receive Unexpected Message in OpenSent State",
		2: "Receive Unexpected Message in OpenConfirm State",
		3: "Receive Unexpected Message in Established State",
	},
	ErrCodeCease: {
		1: "Maximum Number of Prefixes Reached",
		2: "Administrative Shutdown",
		3: "Peer De-configured",
		4: "Administrative Reset",
		5: "Connection Rejected",
		6: "Other Configuration Change",
		7: "Connection Collision Resolution",
		8: "Out of Resources",
	},
}

// NotificationMessage is a decoded BGP NOTIFICATION.
type NotificationMessage struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
	Text         string
}

// ParseNotification decodes a BGP NOTIFICATION message body (the bytes
// following the 19-byte common header).
func ParseNotification(data []byte) (*NotificationMessage, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("bgp: notification too short (%d bytes)", len(data))
	}
	msg := &NotificationMessage{
		ErrorCode:    data[0],
		ErrorSubcode: data[1],
		Data:         data[2:],
	}
	msg.Text = notificationText(msg.ErrorCode, msg.ErrorSubcode)
	return msg, nil
}

func notificationText(code, subcode uint8) string {
	codeText, ok := errCodeText[code]
	if !ok {
		return fmt.Sprintf("Unknown notification type [%d]", code)
	}
	if subs, ok := subcodeText[code]; ok {
		if text, ok := subs[subcode]; ok {
			return fmt.Sprintf("%s: %s", codeText, text)
		}
	}
	if subcode == 0 {
		return codeText
	}
	return fmt.Sprintf("%s: Unknown subcode %d", codeText, subcode)
}
