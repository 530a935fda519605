package pccc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnoseSTSSuccess(t *testing.T) {
	assert.Equal(t, "success", DiagnoseSTS(0x0F, 0x00, 0x00))
}

func TestDiagnoseSTSLocalLinkError(t *testing.T) {
	assert.Equal(t, "destination out of buffers", DiagnoseSTS(0x06, 0x01, 0x00))
	assert.Equal(t, "timeout", DiagnoseSTS(0x06, 0x05, 0x00))
	assert.Equal(t, "duplicate node", DiagnoseSTS(0x06, 0x06, 0x00))
}

func TestDiagnoseSTSUnmappedLocalLinkError(t *testing.T) {
	assert.Equal(t, "local link error 0x02", DiagnoseSTS(0x06, 0x02, 0x00))
}

func TestDiagnoseSTSExtendedKnown(t *testing.T) {
	assert.Equal(t, "type mismatch", DiagnoseSTS(0x0F, 0xF0, 0x17))
	assert.Equal(t, "file open by another node", DiagnoseSTS(0x0F, 0xF0, 0x1A))
}

func TestDiagnoseSTSExtendedUnmappedNeverFails(t *testing.T) {
	got := DiagnoseSTS(0x0F, 0xF0, 0x99)
	assert.Equal(t, "Undefined EXT STS 0x99 for CMD 0x0F", got)
}

func TestDiagnoseSTSRemoteMajor(t *testing.T) {
	assert.Equal(t, "remote major error 0x10", DiagnoseSTS(0x0F, 0x10, 0x00))
	assert.Equal(t, "remote major error 0x90", DiagnoseSTS(0x0F, 0x90, 0x00))
}

func TestResultCodeErrorNeverFails(t *testing.T) {
	assert.Equal(t, "success", Success.Error())
	assert.Equal(t, "command timed out waiting for reply", ErrTimeout.Error())
	unknown := ResultCode(200)
	assert.Contains(t, unknown.Error(), "unknown PCCC result code")
}
