package pccc

import "encoding/binary"

// PCCC command/function opcodes (spec section 6's opcode table).
const (
	cmd06 byte = 0x06
	cmd0F byte = 0x0F

	fncEcho           byte = 0x00
	fncSetVars        byte = 0x02
	fncSetTimeout     byte = 0x04
	fncSetNAKs        byte = 0x05
	fncSetENQs        byte = 0x06
	fncReadLinkParam  byte = 0x09
	fncSetLinkParam   byte = 0x0A
	fncBitWrite       byte = 0x02
	fncReadModifyWr   byte = 0x26
	fncDisableForces  byte = 0x41
	fncChangeModeSLC  byte = 0x80
	fncSetCPUMode     byte = 0x3A
	fncReadSLCFileInfo byte = 0x94
	fncPTLRead2Field  byte = 0xA1
	fncPTLRead3Field  byte = 0xA2
	fncPTLWrite2Field byte = 0xA9
	fncPTLWrite3Field byte = 0xAA
	fncPTLWriteMasked byte = 0xAB
)

// CmdEcho builds an Echo command (spec section 4.6/8's scenario 1).
// Payload must be 1..243 bytes.
func (s *Session) CmdEcho(dnode byte, payload []byte, notify NotifyFunc) (*Slot, error) {
	if len(payload) < 1 || len(payload) > 243 {
		return nil, ErrInvalidParameter
	}
	sent := append([]byte(nil), payload...)
	decoder := func(reply []byte) (ResultCode, error) {
		return decodeEcho(reply, sent)
	}
	return s.CmdInit(cmd06, true, fncEcho, dnode, payload, notify, decoder)
}

// CmdSetVars sets one or more diagnostic counters on the remote station.
func (s *Session) CmdSetVars(dnode byte, body []byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd06, true, fncSetVars, dnode, body, notify, nil)
}

// CmdSetTimeout sets the remote's ack-timeout, in whatever unit the
// remote station expects (a single byte parameter).
func (s *Session) CmdSetTimeout(dnode byte, value byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd06, true, fncSetTimeout, dnode, []byte{value}, notify, nil)
}

// CmdSetNAKs sets the remote's max-NAK retry count.
func (s *Session) CmdSetNAKs(dnode byte, value byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd06, true, fncSetNAKs, dnode, []byte{value}, notify, nil)
}

// CmdSetENQs sets the remote's max-ENQ retry count.
func (s *Session) CmdSetENQs(dnode byte, value byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd06, true, fncSetENQs, dnode, []byte{value}, notify, nil)
}

// CmdReadLinkParam reads a single DF1 link parameter. Its reply decoder
// only checks that the parameter byte is present and does not store it.
func (s *Session) CmdReadLinkParam(dnode byte, param byte, notify NotifyFunc) (*Slot, error) {
	decoder := func(reply []byte) (ResultCode, error) {
		return decodeReadLinkParam(reply)
	}
	return s.CmdInit(cmd06, true, fncReadLinkParam, dnode, []byte{param}, notify, decoder)
}

// CmdSetLinkParam writes a single DF1 link parameter.
func (s *Session) CmdSetLinkParam(dnode byte, param, value byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd06, true, fncSetLinkParam, dnode, []byte{param, value}, notify, nil)
}

// ptlAddress composes the shared bytes-count/file/type/element[/sub]
// header used by BitWrite, ReadModifyWrite, and all PTL read/write
// variants (spec section 4.6/8 scenario 6).
func ptlAddress(fileType FileType, fileNumber byte, element uint16, subElement uint16, threeField bool, byteCount byte) []byte {
	out := make([]byte, 0, 7)
	out = append(out, byteCount, fileNumber, fileTypeWireCode(fileType))
	elemBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(elemBuf, element)
	out = append(out, elemBuf...)
	if threeField {
		subBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(subBuf, subElement)
		out = append(out, subBuf...)
	}
	return out
}

// CmdBitWrite ORs/ANDs a bitmask into one data-table element (spec
// section 6: cmd 0x0F, fnc 0x02).
func (s *Session) CmdBitWrite(dnode byte, fileType FileType, fileNumber byte, element uint16, andMask, orMask uint16, notify NotifyFunc) (*Slot, error) {
	size := fileType.WireSize()
	if size == 0 || size > 236 {
		return nil, ErrInvalidParameter
	}
	body := ptlAddress(fileType, fileNumber, element, 0, false, byte(size))
	maskBuf := make([]byte, 4)
	binary.LittleEndian.PutUint16(maskBuf[0:2], andMask)
	binary.LittleEndian.PutUint16(maskBuf[2:4], orMask)
	body = append(body, maskBuf...)
	return s.CmdInit(cmd0F, true, fncBitWrite, dnode, body, notify, nil)
}

// CmdReadModifyWrite is the read-modify-write variant of bit masking
// (spec section 6: cmd 0x0F, fnc 0x26); same wire shape as BitWrite.
func (s *Session) CmdReadModifyWrite(dnode byte, fileType FileType, fileNumber byte, element uint16, andMask, orMask uint16, notify NotifyFunc) (*Slot, error) {
	size := fileType.WireSize()
	if size == 0 || size > 236 {
		return nil, ErrInvalidParameter
	}
	body := ptlAddress(fileType, fileNumber, element, 0, false, byte(size))
	maskBuf := make([]byte, 4)
	binary.LittleEndian.PutUint16(maskBuf[0:2], andMask)
	binary.LittleEndian.PutUint16(maskBuf[2:4], orMask)
	body = append(body, maskBuf...)
	return s.CmdInit(cmd0F, true, fncReadModifyWr, dnode, body, notify, nil)
}

// CmdDisableForces disables any active I/O forces on the remote (spec
// section 6: cmd 0x0F, fnc 0x41); the body after the fnc byte is empty.
func (s *Session) CmdDisableForces(dnode byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd0F, true, fncDisableForces, dnode, nil, notify, nil)
}

// CmdChangeModeSLC requests an SLC-family CPU mode change.
func (s *Session) CmdChangeModeSLC(dnode byte, mode byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd0F, true, fncChangeModeSLC, dnode, []byte{mode}, notify, nil)
}

// CmdSetCPUMode requests a MicroLogix-family CPU mode change; it shares
// opcode 0x0F/0x3A with ChangeModeMicroLogix in spec section 6's table.
func (s *Session) CmdSetCPUMode(dnode byte, mode byte, notify NotifyFunc) (*Slot, error) {
	return s.CmdInit(cmd0F, true, fncSetCPUMode, dnode, []byte{mode}, notify, nil)
}

// CmdReadSLCFileInfo queries a data-table file's size and type (spec
// section 4.6).
func (s *Session) CmdReadSLCFileInfo(dnode byte, fileNumber byte, notify NotifyFunc) (*Slot, error) {
	decoder := func(reply []byte) (ResultCode, error) {
		_, err := decodeReadSLCFileInfo(reply)
		return replyResult(err)
	}
	return s.CmdInit(cmd0F, true, fncReadSLCFileInfo, dnode, []byte{fileNumber}, notify, decoder)
}

// CmdPTLRead issues a Protected Typed Logical Read of count elements of
// fileType starting at element (and, with threeField, subElement). Size
// is capped at 236 bytes (spec section 4.6).
func (s *Session) CmdPTLRead(dnode byte, fileType FileType, fileNumber byte, element, subElement uint16, count int, threeField bool, notify NotifyFunc) (*Slot, error) {
	size := fileType.WireSize()
	if size == 0 || count < 1 {
		return nil, ErrInvalidParameter
	}
	total := size * count
	if total > 236 {
		return nil, ErrInvalidParameter
	}
	body := ptlAddress(fileType, fileNumber, element, subElement, threeField, byte(total))
	fnc := fncPTLRead2Field
	if threeField {
		fnc = fncPTLRead3Field
	}
	decoder := func(reply []byte) (ResultCode, error) {
		_, err := decodePTLReadReply(reply, fileType, count)
		return replyResult(err)
	}
	return s.CmdInit(cmd0F, true, fnc, dnode, body, notify, decoder)
}

// CmdPTLWrite issues a Protected Typed Logical Write of elems to
// fileType starting at element (and, with threeField, subElement).
func (s *Session) CmdPTLWrite(dnode byte, fileType FileType, fileNumber byte, element, subElement uint16, elems []Element, threeField bool, notify NotifyFunc) (*Slot, error) {
	size := fileType.WireSize()
	if size == 0 || len(elems) < 1 {
		return nil, ErrInvalidParameter
	}
	total := size * len(elems)
	if total > 236 {
		return nil, ErrInvalidParameter
	}
	data, err := EncodeElements(elems)
	if err != nil {
		return nil, err
	}
	body := ptlAddress(fileType, fileNumber, element, subElement, threeField, byte(total))
	body = append(body, data...)
	fnc := fncPTLWrite2Field
	if threeField {
		fnc = fncPTLWrite3Field
	}
	return s.CmdInit(cmd0F, true, fnc, dnode, body, notify, nil)
}

// CmdPTLWriteMasked writes elems to fileType, applying mask bytes ahead
// of the data so only masked bits of each destination word change (spec
// section 6: cmd 0x0F, fnc 0xAB).
func (s *Session) CmdPTLWriteMasked(dnode byte, fileType FileType, fileNumber byte, element uint16, mask []byte, elems []Element, notify NotifyFunc) (*Slot, error) {
	size := fileType.WireSize()
	if size == 0 || len(elems) < 1 || len(mask) != size*len(elems) {
		return nil, ErrInvalidParameter
	}
	total := size * len(elems)
	if total > 236 {
		return nil, ErrInvalidParameter
	}
	data, err := EncodeElements(elems)
	if err != nil {
		return nil, err
	}
	body := ptlAddress(fileType, fileNumber, element, 0, false, byte(total))
	body = append(body, mask...)
	body = append(body, data...)
	return s.CmdInit(cmd0F, true, fncPTLWriteMasked, dnode, body, notify, nil)
}
