// Package bytesourcemock contains a hand-maintained gomock double for
// bytesource.Source, shaped the way mockgen would emit it, so tests can
// force source failures without touching a real file; pkg/bytesource's
// own Reader/Writer tests use it.
package bytesourcemock

import (
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"
)

// MockSource is a mock of the bytesource.Source interface.
type MockSource struct {
	ctrl     *gomock.Controller
	recorder *MockSourceMockRecorder
}

// MockSourceMockRecorder is the mock recorder for MockSource.
type MockSourceMockRecorder struct {
	mock *MockSource
}

// NewMockSource creates a new mock instance.
func NewMockSource(ctrl *gomock.Controller) *MockSource {
	mock := &MockSource{ctrl: ctrl}
	mock.recorder = &MockSourceMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockSource) EXPECT() *MockSourceMockRecorder {
	return m.recorder
}

// ReadAt mocks base method.
func (m *MockSource) ReadAt(buf []byte, absolute int64) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ReadAt", buf, absolute)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ReadAt indicates an expected call of ReadAt.
func (mr *MockSourceMockRecorder) ReadAt(buf, absolute interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ReadAt", reflect.TypeOf((*MockSource)(nil).ReadAt), buf, absolute)
}

// WriteAt mocks base method.
func (m *MockSource) WriteAt(buf []byte, absolute int64) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "WriteAt", buf, absolute)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// WriteAt indicates an expected call of WriteAt.
func (mr *MockSourceMockRecorder) WriteAt(buf, absolute interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WriteAt", reflect.TypeOf((*MockSource)(nil).WriteAt), buf, absolute)
}

// Append mocks base method.
func (m *MockSource) Append(buf []byte) (int64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Append", buf)
	ret0, _ := ret[0].(int64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Append indicates an expected call of Append.
func (mr *MockSourceMockRecorder) Append(buf interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Append", reflect.TypeOf((*MockSource)(nil).Append), buf)
}

// End mocks base method.
func (m *MockSource) End() int64 {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "End")
	ret0, _ := ret[0].(int64)
	return ret0
}

// End indicates an expected call of End.
func (mr *MockSourceMockRecorder) End() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "End", reflect.TypeOf((*MockSource)(nil).End))
}

// Sync mocks base method.
func (m *MockSource) Sync() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Sync")
	ret0, _ := ret[0].(error)
	return ret0
}

// Sync indicates an expected call of Sync.
func (mr *MockSourceMockRecorder) Sync() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Sync", reflect.TypeOf((*MockSource)(nil).Sync))
}
