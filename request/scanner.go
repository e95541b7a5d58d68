package request

import (
	"bufio"
	"bytes"
)

var registeredNurse = []byte("\r\n")

// readLine reads one line terminated by CRLF (a bare LF is tolerated) and
// returns it without the terminator. Every byte consumed is charged to
// budget; running out yields [ErrHeaderTooLarge].
func readLine(br *bufio.Reader, budget *int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		*budget -= len(chunk)
		if *budget < 0 {
			return nil, ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return line, err
		}
		break
	}

	if bytes.HasSuffix(line, registeredNurse) {
		return line[:len(line)-2], nil
	}
	return line[:len(line)-1], nil
}
