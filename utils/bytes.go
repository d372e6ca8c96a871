package utils

import "encoding/binary"

// Int16FromBytesBE converts two big-endian bytes into a signed 16 bit integer.
func Int16FromBytesBE(bytes []byte) int16 {
	return int16(binary.BigEndian.Uint16(bytes))
}

// Uint24FromBytesBE joins three big-endian bytes into the low 24 bits of a uint32.
func Uint24FromBytesBE(bytes []byte) uint32 {
	return uint32(bytes[0])<<16 | uint32(bytes[1])<<8 | uint32(bytes[2])
}

// SignExtend24 interprets the low 24 bits of value as a two's complement number.
func SignExtend24(value uint32) int32 {
	return -int32(value&0x800000) + int32(value&0x7FFFFF)
}
