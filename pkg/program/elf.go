package program

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// sBPF programs ship as ELF64 shared objects. Execution lives behind the
// Interpreter interface; deployment only checks that the blob is a plausible
// sBPF ELF so that garbage cannot be registered as a program.

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

const (
	elfHeaderSize = 64

	elfClass64 = 2 // 64-bit
	elfDataLSB = 1 // little-endian

	elfMachineBPF  = 247 // eBPF
	elfMachineSBPF = 263 // sBPF (Solana BPF)

	elfTypeExec = 2
	elfTypeDyn  = 3 // shared object, the usual Solana form

	// MaxBytecodeSize caps deployed program size at 10 MB.
	MaxBytecodeSize = 10 * 1024 * 1024
)

// ValidateBytecode checks that a blob carries a well-formed sBPF ELF header.
func ValidateBytecode(data []byte) error {
	if len(data) > MaxBytecodeSize {
		return fmt.Errorf("%w: %d bytes exceeds %d byte limit", ErrInvalidProgramData, len(data), MaxBytecodeSize)
	}
	if len(data) < elfHeaderSize {
		return fmt.Errorf("%w: truncated ELF header", ErrInvalidProgramData)
	}
	if !bytes.Equal(data[0:4], elfMagic) {
		return fmt.Errorf("%w: bad ELF magic", ErrInvalidProgramData)
	}
	if data[4] != elfClass64 {
		return fmt.Errorf("%w: expected 64-bit ELF class, got %d", ErrInvalidProgramData, data[4])
	}
	if data[5] != elfDataLSB {
		return fmt.Errorf("%w: expected little-endian ELF, got encoding %d", ErrInvalidProgramData, data[5])
	}

	elfType := binary.LittleEndian.Uint16(data[16:18])
	if elfType != elfTypeExec && elfType != elfTypeDyn {
		return fmt.Errorf("%w: unsupported ELF type %d", ErrInvalidProgramData, elfType)
	}

	machine := binary.LittleEndian.Uint16(data[18:20])
	if machine != elfMachineBPF && machine != elfMachineSBPF {
		return fmt.Errorf("%w: unsupported machine type %d", ErrInvalidProgramData, machine)
	}

	// Section headers must at least fit inside the file.
	shOff := binary.LittleEndian.Uint64(data[40:48])
	shEntSize := binary.LittleEndian.Uint16(data[58:60])
	shNum := binary.LittleEndian.Uint16(data[60:62])
	if shNum > 0 {
		end := shOff + uint64(shEntSize)*uint64(shNum)
		if end < shOff || end > uint64(len(data)) {
			return fmt.Errorf("%w: section headers exceed file size", ErrInvalidProgramData)
		}
	}

	return nil
}
