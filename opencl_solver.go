//go:build opencl

package seismod

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
)

// clForward runs the forward time loop on an OpenCL device. The model,
// stencil coefficients, and source/receiver footprints are uploaded
// once; each time step enqueues the wave update, the source injection,
// and the receiver sampling, reading back only the receiver row. The
// device works in float32; host data is converted at the boundary.
//
// Only 2-D grids are supported on the device.
type clForward struct {
	context      *cl.Context
	queue        *cl.CommandQueue
	program      *cl.Program
	stepKernel   *cl.Kernel
	injectKernel *cl.Kernel
	sampleKernel *cl.Kernel

	mBuf, dampBuf    *cl.MemObject
	wyBuf, wxBuf     *cl.MemObject
	currBuf, prevBuf *cl.MemObject
	nextBuf          *cl.MemObject
	srcIdxBuf        *cl.MemObject
	srcScaleBuf      *cl.MemObject
	recIdxBuf        *cl.MemObject
	recWeightBuf     *cl.MemObject
	recOutBuf        *cl.MemObject

	width, height int
	size          int
	srcCount      int
	recCount      int
	recCorners    int
	deviceName    string

	boundCurr *cl.MemObject
	boundPrev *cl.MemObject
	boundNext *cl.MemObject
}

const forwardKernelSource = `__kernel void wave_step(
    const int width,
    const int height,
    const int rad,
    const float dt,
    __global const float* wy,
    __global const float* wx,
    __global const float* m_buf,
    __global const float* damp_buf,
    __global const float* curr,
    __global const float* prev,
    __global float* next_buffer)
{
    int idx = get_global_id(0);
    int size = width * height;
    if (idx >= size) {
        return;
    }
    int x = idx % width;
    int y = idx / width;
    if (x < rad || x >= width - rad || y < rad || y >= height - rad) {
        return;
    }
    float center = curr[idx];
    float lap = (wy[0] + wx[0]) * center;
    for (int k = 1; k <= rad; k++) {
        lap += wx[k] * (curr[idx - k] + curr[idx + k]);
        lap += wy[k] * (curr[idx - k * width] + curr[idx + k * width]);
    }
    float mi = m_buf[idx];
    float s = damp_buf[idx] * dt / (2.0f * mi);
    next_buffer[idx] = (2.0f * center - (1.0f - s) * prev[idx] + dt * dt / mi * lap) / (1.0f + s);
}

__kernel void inject_points(
    const float amp,
    const int count,
    __global float* buffer,
    __global const int* indices,
    __global const float* scales)
{
    int gid = get_global_id(0);
    if (gid >= count) {
        return;
    }
    buffer[indices[gid]] += amp * scales[gid];
}

__kernel void sample_points(
    const int npoints,
    const int ncorner,
    __global const float* buffer,
    __global const int* indices,
    __global const float* weights,
    __global float* out)
{
    int p = get_global_id(0);
    if (p >= npoints) {
        return;
    }
    float acc = 0.0f;
    for (int k = 0; k < ncorner; k++) {
        int j = p * ncorner + k;
        acc += weights[j] * buffer[indices[j]];
    }
    out[p] = acc;
}`

func pickDevice() (*cl.Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available")
	}
	for _, p := range platforms {
		devices, derr := p.GetDevices(cl.DeviceTypeGPU)
		if derr != nil && derr != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			return devices[0], nil
		}
	}
	for _, p := range platforms {
		devices, derr := p.GetDevices(cl.DeviceTypeCPU)
		if derr != nil && derr != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			return devices[0], nil
		}
	}
	return nil, errors.New("no suitable OpenCL devices found")
}

func newCLForward(m *Model, st *stencil, src, rec *Sparse, dt float64) (*clForward, error) {
	if m.NDim() != 2 {
		return nil, fmt.Errorf("%w: device path supports 2-D grids only", ErrGPUUnavailable)
	}
	device, err := pickDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGPUUnavailable, err)
	}
	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	s := &clForward{
		context:    context,
		width:      m.Dims[1],
		height:     m.Dims[0],
		size:       m.Size(),
		srcCount:   src.N * len(src.corners[0]),
		recCount:   rec.N,
		recCorners: len(rec.corners[0]),
		deviceName: device.Name(),
	}
	fail := func(stage string, err error) (*clForward, error) {
		s.Close()
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	if s.queue, err = context.CreateCommandQueue(device, 0); err != nil {
		return fail("creating OpenCL command queue", err)
	}
	if s.program, err = context.CreateProgramWithSource([]string{forwardKernelSource}); err != nil {
		return fail("creating OpenCL program", err)
	}
	if err = s.program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		if buildErr, ok := err.(cl.BuildError); ok {
			return fail("building OpenCL program", errors.New(string(buildErr)))
		}
		return fail("building OpenCL program", err)
	}
	if s.stepKernel, err = s.program.CreateKernel("wave_step"); err != nil {
		return fail("creating wave kernel", err)
	}
	if s.injectKernel, err = s.program.CreateKernel("inject_points"); err != nil {
		return fail("creating injection kernel", err)
	}
	if s.sampleKernel, err = s.program.CreateKernel("sample_points"); err != nil {
		return fail("creating sampling kernel", err)
	}

	f32 := int(unsafe.Sizeof(float32(0)))
	i32 := int(unsafe.Sizeof(int32(0)))
	fieldBytes := s.size * f32
	if s.mBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, fieldBytes); err != nil {
		return fail("allocating slowness buffer", err)
	}
	if s.dampBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, fieldBytes); err != nil {
		return fail("allocating damping buffer", err)
	}
	coeffBytes := (st.rad + 1) * f32
	if s.wyBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, coeffBytes); err != nil {
		return fail("allocating coefficient buffer", err)
	}
	if s.wxBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, coeffBytes); err != nil {
		return fail("allocating coefficient buffer", err)
	}
	if s.currBuf, err = context.CreateEmptyBuffer(cl.MemReadWrite, fieldBytes); err != nil {
		return fail("allocating current buffer", err)
	}
	if s.prevBuf, err = context.CreateEmptyBuffer(cl.MemReadWrite, fieldBytes); err != nil {
		return fail("allocating previous buffer", err)
	}
	if s.nextBuf, err = context.CreateEmptyBuffer(cl.MemReadWrite, fieldBytes); err != nil {
		return fail("allocating next buffer", err)
	}
	if s.srcIdxBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, s.srcCount*i32); err != nil {
		return fail("allocating source index buffer", err)
	}
	if s.srcScaleBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, s.srcCount*f32); err != nil {
		return fail("allocating source scale buffer", err)
	}
	recTotal := s.recCount * s.recCorners
	if s.recIdxBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, recTotal*i32); err != nil {
		return fail("allocating receiver index buffer", err)
	}
	if s.recWeightBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, recTotal*f32); err != nil {
		return fail("allocating receiver weight buffer", err)
	}
	if s.recOutBuf, err = context.CreateEmptyBuffer(cl.MemWriteOnly, s.recCount*f32); err != nil {
		return fail("allocating receiver output buffer", err)
	}

	if err := s.uploadStatic(m, st, src, rec, dt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *clForward) uploadStatic(m *Model, st *stencil, src, rec *Sparse, dt float64) error {
	scratch := make([]float32, s.size)
	float64ToFloat32(scratch, m.M)
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.mBuf, false, 0, scratch, nil); err != nil {
		return fmt.Errorf("writing slowness buffer: %w", err)
	}
	float64ToFloat32(scratch, m.Damp)
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.dampBuf, false, 0, scratch, nil); err != nil {
		return fmt.Errorf("writing damping buffer: %w", err)
	}
	// Zero initial state.
	zero := make([]float32, s.size)
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.currBuf, false, 0, zero, nil); err != nil {
		return fmt.Errorf("zeroing current buffer: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.prevBuf, false, 0, zero, nil); err != nil {
		return fmt.Errorf("zeroing previous buffer: %w", err)
	}

	wy := make([]float32, st.rad+1)
	wx := make([]float32, st.rad+1)
	float64ToFloat32(wy, st.lap[0])
	float64ToFloat32(wx, st.lap[1])
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.wyBuf, false, 0, wy, nil); err != nil {
		return fmt.Errorf("writing coefficient buffer: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.wxBuf, false, 0, wx, nil); err != nil {
		return fmt.Errorf("writing coefficient buffer: %w", err)
	}

	// Flatten source footprints with the dt^2/m injection scale folded
	// into the interpolation weight.
	srcIdx := make([]int32, 0, s.srcCount)
	srcScale := make([]float32, 0, s.srcCount)
	dt2 := dt * dt
	for p := 0; p < src.N; p++ {
		for k, idx := range src.corners[p] {
			srcIdx = append(srcIdx, int32(idx))
			srcScale = append(srcScale, float32(src.weights[p][k]*dt2/m.M[idx]))
		}
	}
	if err := s.writeInt32(s.srcIdxBuf, srcIdx); err != nil {
		return fmt.Errorf("writing source indices: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.srcScaleBuf, false, 0, srcScale, nil); err != nil {
		return fmt.Errorf("writing source scales: %w", err)
	}

	recIdx := make([]int32, 0, s.recCount*s.recCorners)
	recW := make([]float32, 0, s.recCount*s.recCorners)
	for p := 0; p < rec.N; p++ {
		for k, idx := range rec.corners[p] {
			recIdx = append(recIdx, int32(idx))
			recW = append(recW, float32(rec.weights[p][k]))
		}
	}
	if err := s.writeInt32(s.recIdxBuf, recIdx); err != nil {
		return fmt.Errorf("writing receiver indices: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.recWeightBuf, false, 0, recW, nil); err != nil {
		return fmt.Errorf("writing receiver weights: %w", err)
	}

	if err := s.stepKernel.SetArgs(
		int32(s.width),
		int32(s.height),
		int32(st.rad),
		float32(dt),
		s.wyBuf,
		s.wxBuf,
		s.mBuf,
		s.dampBuf,
		s.currBuf,
		s.prevBuf,
		s.nextBuf,
	); err != nil {
		return fmt.Errorf("setting wave kernel arguments: %w", err)
	}
	if err := s.injectKernel.SetArgs(
		float32(0),
		int32(s.srcCount),
		s.nextBuf,
		s.srcIdxBuf,
		s.srcScaleBuf,
	); err != nil {
		return fmt.Errorf("setting injection kernel arguments: %w", err)
	}
	if err := s.sampleKernel.SetArgs(
		int32(s.recCount),
		int32(s.recCorners),
		s.nextBuf,
		s.recIdxBuf,
		s.recWeightBuf,
		s.recOutBuf,
	); err != nil {
		return fmt.Errorf("setting sampling kernel arguments: %w", err)
	}
	s.boundCurr = s.currBuf
	s.boundPrev = s.prevBuf
	s.boundNext = s.nextBuf
	return nil
}

func (s *clForward) writeInt32(buf *cl.MemObject, data []int32) error {
	if len(data) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&data[0])
	byteLen := len(data) * int(unsafe.Sizeof(int32(0)))
	_, err := s.queue.EnqueueWriteBuffer(buf, false, 0, byteLen, ptr, nil)
	return err
}

// rebind repoints the kernels at the rotated buffers, skipping args the
// device already holds.
func (s *clForward) rebind() error {
	if s.boundCurr != s.currBuf {
		if err := s.stepKernel.SetArgBuffer(8, s.currBuf); err != nil {
			return err
		}
		s.boundCurr = s.currBuf
	}
	if s.boundPrev != s.prevBuf {
		if err := s.stepKernel.SetArgBuffer(9, s.prevBuf); err != nil {
			return err
		}
		s.boundPrev = s.prevBuf
	}
	if s.boundNext != s.nextBuf {
		if err := s.stepKernel.SetArgBuffer(10, s.nextBuf); err != nil {
			return err
		}
		if err := s.injectKernel.SetArgBuffer(2, s.nextBuf); err != nil {
			return err
		}
		if err := s.sampleKernel.SetArgBuffer(2, s.nextBuf); err != nil {
			return err
		}
		s.boundNext = s.nextBuf
	}
	return nil
}

// Run executes the full forward time loop, filling recData and leaving
// the last two wavefield levels in u.
func (s *clForward) Run(wavelet []float64, recData *Gather, u *Wavefield) error {
	nt := len(wavelet)
	global := []int{s.size}
	recRow := make([]float32, s.recCount)
	for t := 0; t < nt-1; t++ {
		if err := s.rebind(); err != nil {
			return fmt.Errorf("binding buffers: %w", err)
		}
		if _, err := s.queue.EnqueueNDRangeKernel(s.stepKernel, nil, global, nil, nil); err != nil {
			return fmt.Errorf("enqueueing wave step: %w", err)
		}
		if wavelet[t] != 0 {
			if err := s.injectKernel.SetArgFloat32(0, float32(wavelet[t])); err != nil {
				return fmt.Errorf("setting source amplitude: %w", err)
			}
			if _, err := s.queue.EnqueueNDRangeKernel(s.injectKernel, nil, []int{s.srcCount}, nil, nil); err != nil {
				return fmt.Errorf("enqueueing source injection: %w", err)
			}
		}
		if _, err := s.queue.EnqueueNDRangeKernel(s.sampleKernel, nil, []int{s.recCount}, nil, nil); err != nil {
			return fmt.Errorf("enqueueing receiver sampling: %w", err)
		}
		if _, err := s.queue.EnqueueReadBufferFloat32(s.recOutBuf, true, 0, recRow, nil); err != nil {
			return fmt.Errorf("reading receiver row: %w", err)
		}
		float32ToFloat64(recData.Row(t+1), recRow)
		s.prevBuf, s.currBuf, s.nextBuf = s.currBuf, s.nextBuf, s.prevBuf
	}
	scratch := make([]float32, s.size)
	if _, err := s.queue.EnqueueReadBufferFloat32(s.currBuf, true, 0, scratch, nil); err != nil {
		return fmt.Errorf("reading final wavefield: %w", err)
	}
	float32ToFloat64(u.At(nt-1), scratch)
	if _, err := s.queue.EnqueueReadBufferFloat32(s.prevBuf, true, 0, scratch, nil); err != nil {
		return fmt.Errorf("reading final wavefield: %w", err)
	}
	float32ToFloat64(u.At(nt-2), scratch)
	return nil
}

func (s *clForward) Close() {
	for _, buf := range []**cl.MemObject{
		&s.recOutBuf, &s.recWeightBuf, &s.recIdxBuf,
		&s.srcScaleBuf, &s.srcIdxBuf,
		&s.nextBuf, &s.prevBuf, &s.currBuf,
		&s.wxBuf, &s.wyBuf, &s.dampBuf, &s.mBuf,
	} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	if s.sampleKernel != nil {
		s.sampleKernel.Release()
		s.sampleKernel = nil
	}
	if s.injectKernel != nil {
		s.injectKernel.Release()
		s.injectKernel = nil
	}
	if s.stepKernel != nil {
		s.stepKernel.Release()
		s.stepKernel = nil
	}
	if s.program != nil {
		s.program.Release()
		s.program = nil
	}
	if s.queue != nil {
		s.queue.Release()
		s.queue = nil
	}
	if s.context != nil {
		s.context.Release()
		s.context = nil
	}
}

func (s *clForward) DeviceName() string { return s.deviceName }

func runForwardGPU(m *Model, st *stencil, src *Sparse, wavelet []float64, rec *Sparse, recData *Gather, u *Wavefield, dt float64) error {
	solver, err := newCLForward(m, st, src, rec, dt)
	if err != nil {
		return err
	}
	defer solver.Close()
	return solver.Run(wavelet, recData, u)
}
