//go:build !linux

package transport

const DefaultBaud = 4800

type Serial struct{}

func OpenSerial(path string, baud int) (*Serial, error) {
	return nil, ErrUnsupported
}

func (s *Serial) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (s *Serial) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (s *Serial) Close() error                { return nil }
