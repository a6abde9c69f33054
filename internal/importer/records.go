package importer

import (
	"strconv"
	"strings"
)

// Element and attribute names used by SMS Backup & Restore exports.
// https://www.synctech.com.au/sms-backup-restore/fields-in-xml-backup-files/
const (
	tagSMS = "sms"
	tagMMS = "mms"

	smsReceived = "1"
	smsSent     = "2"

	// minPhoneLength is the shortest SMS address worth looking up.
	minPhoneLength = 7
)

// smsRecord is a raw <sms> element.
type smsRecord struct {
	Address   string `xml:"address,attr"`
	Date      string `xml:"date,attr"`
	Body      string `xml:"body,attr"`
	Type      string `xml:"type,attr"`
	MessageID string `xml:"m_id,attr"`
}

// mmsRecord is a raw <mms> element with its parts and addresses.
type mmsRecord struct {
	Address   string    `xml:"address,attr"`
	Date      string    `xml:"date,attr"`
	MessageID string    `xml:"m_id,attr"`
	Parts     []mmsPart `xml:"parts>part"`
	Addrs     []mmsAddr `xml:"addrs>addr"`
}

type mmsPart struct {
	ContentType string `xml:"ct,attr"`
	Location    string `xml:"cl,attr"`
	Data        string `xml:"data,attr"`
	Text        string `xml:"text,attr"`
}

type mmsAddr struct {
	Address string `xml:"address,attr"`
	Type    string `xml:"type,attr"`
}

// parseTimestamp converts the export's millisecond date to Unix seconds.
func parseTimestamp(ms string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(ms), 10, 64)
	if err != nil {
		return 0, err
	}
	return v / 1000, nil
}
