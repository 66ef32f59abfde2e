package signal

import "github.com/dkeye/Meet/internal/protocol"

func (h *connHandler) handlePing() {
	h.send(protocol.Message{Type: protocol.TypePong})
}
