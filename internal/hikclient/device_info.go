// internal/hikclient/device_info.go
package hikclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
)

// DeviceInfo é o retorno de /ISAPI/System/deviceInfo. Enriquece o bloco
// "device" do discovery; falha na busca não é fatal.
type DeviceInfo struct {
	DeviceName          string `xml:"deviceName"`
	DeviceID            string `xml:"deviceID"`
	Model               string `xml:"model"`
	SerialNumber        string `xml:"serialNumber"`
	MACAddress          string `xml:"macAddress"`
	FirmwareVersion     string `xml:"firmwareVersion"`
	FirmwareReleaseDate string `xml:"firmwareReleasedDate"`
	DeviceType          string `xml:"deviceType"`
}

// FetchDeviceInfo busca e decodifica o deviceInfo da câmera.
func (c *Client) FetchDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	data, err := c.fetchXML(ctx, deviceInfoPath)
	if err != nil {
		return nil, err
	}
	var info DeviceInfo
	if err := xml.Unmarshal(stripXMLNamespace(data), &info); err != nil {
		return nil, fmt.Errorf("parse deviceInfo: %w", err)
	}
	if info.Model == "" && info.SerialNumber == "" {
		return nil, fmt.Errorf("deviceInfo response missing expected fields")
	}
	return &info, nil
}

var (
	xmlNSOpenRx  = regexp.MustCompile(`<\w+:`)
	xmlNSCloseRx = regexp.MustCompile(`</\w+:`)
)

// remove namespaces simples tipo <ns:Tag> -> <Tag>; alguns firmwares usam
// prefixo de namespace e o encoding/xml não resolve prefixo sem schema.
func stripXMLNamespace(b []byte) []byte {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, len(b)), len(b)+1)
	var out bytes.Buffer
	for scanner.Scan() {
		line := xmlNSCloseRx.ReplaceAllString(scanner.Text(), "</")
		line = xmlNSOpenRx.ReplaceAllString(line, "<")
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if out.Len() == 0 {
		return b
	}
	return out.Bytes()
}
