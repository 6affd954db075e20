package model

import "errors"

var (
	ErrBytecodeBlobNotFound = errors.New("bytecode blob not found")
	ErrHandlerTableNotFound = errors.New("handler table not found")
	ErrBase64Decode         = errors.New("bytecode base64 decode failed")
	ErrDecompress           = errors.New("bytecode decompress failed")
	ErrOperandUnderrun      = errors.New("operand read past end of stream")
	ErrJumpTargetUnresolved = errors.New("jump target outside body")
	ErrStringTableMalformed = errors.New("string table malformed")
	ErrOpcodeMapEmpty       = errors.New("opcode map is empty")
	ErrVersionUndetected    = errors.New("could not detect payload version")
)
