// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"io"
	"net/http"
	"net/url"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) GetHealth() (string, error) {
	return hr.get(ROUTE_HEALTH, nil)
}

func (hr *HttpReader) GetTransfers(address string) (string, error) {
	q := url.Values{}
	if address != "" {
		q.Set("address", address)
	}
	return hr.get(ROUTE_TRANSFERS, q)
}

func (hr *HttpReader) GetProof(chainID, kind, hash string) (string, error) {
	q := url.Values{}
	q.Set("chain_id", chainID)
	q.Set("kind", kind)
	q.Set("hash", hash)
	return hr.get(ROUTE_PROOF, q)
}

func (hr *HttpReader) get(route string, q url.Values) (string, error) {
	u := "http://" + hr.serverIP + ":" + hr.serverPort + route
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	resp, err := http.Get(u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return string(body), nil
}
