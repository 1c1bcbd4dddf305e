// internal/alertstream/alertstream_test.go
package alertstream

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const motionXML = `<EventNotificationAlert version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<ipAddress>192.168.1.64</ipAddress>
<channelID>1</channelID>
<dateTime>2024-03-01T10:15:00+00:00</dateTime>
<activePostCount>1</activePostCount>
<eventType>VMD</eventType>
<eventState>active</eventState>
<eventDescription>Motion alarm</eventDescription>
</EventNotificationAlert>`

func streamOf(boundary string, parts ...string) io.Reader {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: application/xml; charset=\"UTF-8\"\r\n")
		b.WriteString(fmt.Sprintf("Content-Length: %d\r\n", len(p)))
		b.WriteString("\r\n")
		b.WriteString(p)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "--\r\n")
	return strings.NewReader(b.String())
}

func TestScannerContentLength(t *testing.T) {
	sc := NewScanner(streamOf("boundary", motionXML, motionXML), "boundary")

	p1, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "application/xml; charset=\"UTF-8\"", p1.Header.Get("Content-Type"))
	assert.Equal(t, motionXML, string(p1.Body))

	p2, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, motionXML, string(p2.Body))

	_, err = sc.Next()
	assert.Equal(t, io.EOF, err)
}

func TestScannerNoContentLength(t *testing.T) {
	// firmwares antigos não mandam Content-Length; o corpo vai até a
	// próxima linha de boundary
	raw := "--MIME_boundary\r\n" +
		"Content-Type: application/xml\r\n" +
		"\r\n" +
		motionXML + "\r\n" +
		"--MIME_boundary\r\n" +
		"Content-Type: application/xml\r\n" +
		"\r\n" +
		motionXML + "\r\n" +
		"--MIME_boundary--\r\n"

	sc := NewScanner(strings.NewReader(raw), "MIME_boundary")

	p1, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, motionXML, string(p1.Body))

	p2, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, motionXML, string(p2.Body))

	_, err = sc.Next()
	assert.Equal(t, io.EOF, err)
}

func TestScannerTruncatedStream(t *testing.T) {
	// transporte cai no meio de um corpo sem Content-Length: a parte
	// parcial é entregue e o EOF vem na chamada seguinte
	raw := "--b\r\n" +
		"Content-Type: application/xml\r\n" +
		"\r\n" +
		"<EventNotificationAlert><eventType>VMD</event"

	sc := NewScanner(strings.NewReader(raw), "b")

	p, err := sc.Next()
	require.NoError(t, err)
	assert.Contains(t, string(p.Body), "eventType")

	_, err = sc.Next()
	assert.Error(t, err)
}

func TestDecodeAlertActive(t *testing.T) {
	a, err := DecodeAlert([]byte(motionXML))
	require.NoError(t, err)

	assert.Equal(t, "VMD", a.EventType)
	assert.Equal(t, 1, a.ChannelID)
	assert.True(t, a.Active)
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, "192.168.1.64", a.IPAddress)
	assert.Equal(t, "Motion alarm", a.Description)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), a.Timestamp)
	assert.Equal(t, "active", a.Raw["eventState"])
}

func TestDecodeAlertMissingEventState(t *testing.T) {
	// eventState omitido: ativo sse activePostCount >= 1
	xmlActive := `<EventNotificationAlert>
<eventType>linedetection</eventType>
<channelID>2</channelID>
<activePostCount>3</activePostCount>
</EventNotificationAlert>`
	a, err := DecodeAlert([]byte(xmlActive))
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.Equal(t, 2, a.ChannelID)

	xmlInactive := `<EventNotificationAlert>
<eventType>videoloss</eventType>
<activePostCount>0</activePostCount>
</EventNotificationAlert>`
	a, err = DecodeAlert([]byte(xmlInactive))
	require.NoError(t, err)
	assert.False(t, a.Active)
}

func TestDecodeAlertDynChannelFallback(t *testing.T) {
	// NVRs mandam dynChannelID em vez de channelID
	xml := `<EventNotificationAlert>
<eventType>fielddetection</eventType>
<dynChannelID>7</dynChannelID>
<eventState>active</eventState>
</EventNotificationAlert>`
	a, err := DecodeAlert([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, 7, a.ChannelID)

	// nem channelID nem dynChannelID: default 1
	xml = `<EventNotificationAlert>
<eventType>VMD</eventType>
<eventState>active</eventState>
</EventNotificationAlert>`
	a, err = DecodeAlert([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, 1, a.ChannelID)
}

func TestDecodeAlertErrors(t *testing.T) {
	_, err := DecodeAlert([]byte(`<EventNotificationAlert><channelID>1</channelID></EventNotificationAlert>`))
	assert.ErrorIs(t, err, ErrMissingEventType)

	_, err = DecodeAlert([]byte(`<SomethingElse><eventType>VMD</eventType></SomethingElse>`))
	assert.ErrorIs(t, err, ErrWrongRoot)

	xml := `<EventNotificationAlert><eventType>VMD</eventType><eventState>banana</eventState></EventNotificationAlert>`
	_, err = DecodeAlert([]byte(xml))
	assert.Error(t, err)
}

func TestDecodeAlertBadTimestampFallsBack(t *testing.T) {
	xml := `<EventNotificationAlert>
<eventType>VMD</eventType>
<eventState>active</eventState>
<dateTime>not-a-date</dateTime>
</EventNotificationAlert>`
	before := time.Now().UTC()
	a, err := DecodeAlert([]byte(xml))
	require.NoError(t, err)
	assert.False(t, a.Timestamp.Before(before.Add(-time.Second)))
}

func TestReaderSkipsMalformedParts(t *testing.T) {
	sc := streamOf("b", "isso não é xml", motionXML)
	r := NewReader(sc, "b", "portaria")

	item, err := r.Next()
	require.NoError(t, err)
	require.NotNil(t, item.Alert)
	assert.Equal(t, "VMD", item.Alert.EventType)
}

func TestReaderCorruptAfterTooManyBadParts(t *testing.T) {
	parts := make([]string, maxBadParts)
	for i := range parts {
		parts[i] = "lixo sem xml nenhum"
	}
	r := NewReader(streamOf("b", parts...), "b", "portaria")

	_, err := r.Next()
	assert.ErrorIs(t, err, ErrStreamCorrupt)
}

func TestReaderSnapshotPart(t *testing.T) {
	jpeg := string([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02})
	raw := "--b\r\n" +
		"Content-Type: application/xml\r\n" +
		fmt.Sprintf("Content-Length: %d\r\n", len(motionXML)) +
		"\r\n" + motionXML + "\r\n" +
		"--b\r\n" +
		"Content-Type: image/jpeg\r\n" +
		fmt.Sprintf("Content-Length: %d\r\n", len(jpeg)) +
		"\r\n" + jpeg + "\r\n" +
		"--b--\r\n"

	r := NewReader(strings.NewReader(raw), "b", "portaria")

	item, err := r.Next()
	require.NoError(t, err)
	require.NotNil(t, item.Alert)

	item, err = r.Next()
	require.NoError(t, err)
	require.NotNil(t, item.Snapshot)
	assert.Equal(t, "image/jpeg", item.Snapshot.ContentType)
	assert.Equal(t, []byte(jpeg), item.Snapshot.Data)

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}
