package minisftp

import "fmt"

// Response decoders. Each one checks the opcode before touching the
// payload and returns nothing unless the whole payload decodes.

func expectType(p packet, want uint8) error {
	if p.typ != want {
		return &UnexpectedPacketError{Want: []uint8{want}, Got: p.typ}
	}
	return nil
}

func parseVersion(p packet) (uint32, map[string]string, error) {
	if err := expectType(p, fxpVersion); err != nil {
		return 0, nil, err
	}

	var version uint32
	n, err := Unpack(p.payload, "d", &version)
	if err != nil {
		return 0, nil, fmt.Errorf("bad version packet: %w", err)
	}

	exts := make(map[string]string)
	rest := p.payload[n:]
	for len(rest) > 0 {
		var name, data string
		n, err := Unpack(rest, "ss", &name, &data)
		if err != nil {
			return 0, nil, fmt.Errorf("bad extension pair: %w", err)
		}
		exts[name] = data
		rest = rest[n:]
	}
	return version, exts, nil
}

func parseStatus(p packet) (*StatusError, error) {
	if err := expectType(p, fxpStatus); err != nil {
		return nil, err
	}

	var st StatusError
	if _, err := Unpack(p.payload, "ddss", &st.ID, &st.Code, &st.Msg, &st.Lang); err != nil {
		return nil, fmt.Errorf("bad status packet: %w", err)
	}
	return &st, nil
}

// parseStatusFor decodes a status and checks it answers request id.
func parseStatusFor(p packet, id uint32) (*StatusError, error) {
	st, err := parseStatus(p)
	if err != nil {
		return nil, err
	}
	if st.ID != id {
		return nil, &UnexpectedIDError{Want: id, Got: st.ID}
	}
	return st, nil
}

func parseHandle(p packet, id uint32) (string, error) {
	if err := expectType(p, fxpHandle); err != nil {
		return "", err
	}

	var sid uint32
	var handle string
	if _, err := Unpack(p.payload, "ds", &sid, &handle); err != nil {
		return "", fmt.Errorf("bad handle packet: %w", err)
	}
	if sid != id {
		return "", &UnexpectedIDError{Want: id, Got: sid}
	}
	return handle, nil
}

func parseData(p packet, id uint32) ([]byte, error) {
	if err := expectType(p, fxpData); err != nil {
		return nil, err
	}

	var sid uint32
	var data []byte
	if _, err := Unpack(p.payload, "ds", &sid, &data); err != nil {
		return nil, fmt.Errorf("bad data packet: %w", err)
	}
	if sid != id {
		return nil, &UnexpectedIDError{Want: id, Got: sid}
	}
	return data, nil
}
