package model

import "fmt"

// FileType is the tensor-encoding profile recorded in a model's
// hyperparameters (§3). "Mostly" means 1-D tensors (norms, biases)
// stay F32 regardless of the profile.
type FileType int32

const (
	FileTypeF32               FileType = 0
	FileTypeMostlyF16         FileType = 1
	FileTypeMostlyQ4_0        FileType = 2
	FileTypeMostlyQ4_1        FileType = 3
	FileTypeMostlyQ4_1SomeF16 FileType = 4
	FileTypeMostlyQ4_2        FileType = 5
	FileTypeMostlyQ8_0        FileType = 7
	FileTypeMostlyQ5_0        FileType = 8
	FileTypeMostlyQ5_1        FileType = 9
)

// UnsupportedFileTypeError is returned by ParseFileType for any code
// not in the table above, including the reserved value 6.
type UnsupportedFileTypeError struct {
	Code int32
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("model: unsupported file type code %d", e.Code)
}

// ParseFileType validates code against the known FileType table.
func ParseFileType(code int32) (FileType, error) {
	switch FileType(code) {
	case FileTypeF32, FileTypeMostlyF16, FileTypeMostlyQ4_0, FileTypeMostlyQ4_1,
		FileTypeMostlyQ4_1SomeF16, FileTypeMostlyQ4_2, FileTypeMostlyQ8_0,
		FileTypeMostlyQ5_0, FileTypeMostlyQ5_1:
		return FileType(code), nil
	default:
		return 0, &UnsupportedFileTypeError{Code: code}
	}
}

func (f FileType) String() string {
	switch f {
	case FileTypeF32:
		return "F32"
	case FileTypeMostlyF16:
		return "MostlyF16"
	case FileTypeMostlyQ4_0:
		return "MostlyQ4_0"
	case FileTypeMostlyQ4_1:
		return "MostlyQ4_1"
	case FileTypeMostlyQ4_1SomeF16:
		return "MostlyQ4_1SomeF16"
	case FileTypeMostlyQ4_2:
		return "MostlyQ4_2"
	case FileTypeMostlyQ8_0:
		return "MostlyQ8_0"
	case FileTypeMostlyQ5_0:
		return "MostlyQ5_0"
	case FileTypeMostlyQ5_1:
		return "MostlyQ5_1"
	default:
		return fmt.Sprintf("FileType(%d)", int32(f))
	}
}

// Int32 returns the on-disk numeric code.
func (f FileType) Int32() int32 { return int32(f) }
