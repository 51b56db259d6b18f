package wire

import "adbhost/transport"

// WriteMessage encodes and sends one message on t.
func WriteMessage(t transport.Transport, cmd Command, arg0, arg1 uint32, payload []byte) error {
	f := Framer{}
	return t.Send(f.Encode(cmd, arg0, arg1, payload))
}

// ReadMessage performs the two fixed Transport receives the protocol
// requires: one 24-byte header read, then one payload read of exactly
// the declared length.
func ReadMessage(t transport.Transport) (Message, error) {
	f := Framer{}
	hb, err := t.Recv(HeaderLength)
	if err != nil {
		return Message{}, err
	}
	h, err := f.DecodeHeader(hb)
	if err != nil {
		return Message{}, err
	}
	var payload []byte
	if h.DataLength > 0 {
		payload, err = t.Recv(int(h.DataLength))
		if err != nil {
			return Message{}, err
		}
	} else {
		payload = []byte{}
	}
	return f.DecodePayload(h, payload)
}
