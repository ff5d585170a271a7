//go:build integration

package bridge_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/yabridge-go/bridge/internal/bridge/convert"
	"github.com/yabridge-go/bridge/internal/bridge/rendezvous"
	"github.com/yabridge-go/bridge/internal/bridge/wire"
	"github.com/yabridge-go/bridge/internal/notify"
)

// fakeNotifier records the notification a failed startup fired, standing
// in for a real D-Bus session the same way internal/notify's own tests
// do, without requiring one to run in CI.
type fakeNotifier struct {
	summaries []string
	bodies    []string
}

func (f *fakeNotifier) Notify(_ context.Context, summary, body string) error {
	f.summaries = append(f.summaries, summary)
	f.bodies = append(f.bodies, body)
	return nil
}

var _ = Describe("S1: can-do short circuit", func() {
	It("answers hasCockosViewAsConfig locally without touching any channel", func() {
		h := newHarness()
		defer h.close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		result, err := h.np.Dispatch(ctx, wire.EffCanDo, 0, 0, 0, convert.Hint{Bytes: []byte("hasCockosViewAsConfig")})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ReturnValue).To(BeEquivalentTo(-1))

		// The plugin was never asked: nothing recorded a dispatch call for
		// an opcode other than whatever effOpen priming a later test might
		// have sent, and this test never primes effOpen at all.
		Expect(h.plugin.params).To(BeEmpty())
	})
})

var _ = Describe("S2: parameter round trip", func() {
	It("returns exactly what was set", func() {
		h := newHarness()
		defer h.close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		Expect(h.np.SetParameter(ctx, 3, 0.75)).To(Succeed())

		value, err := h.np.GetParameter(ctx, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(BeEquivalentTo(float32(0.75)))
	})
})

var _ = Describe("S3: audio block with host-bound MIDI", func() {
	It("delivers the output block and flushes exactly one queued batch after", func() {
		h := newHarness()
		defer h.close()

		noteOn := wire.MIDIEvent{DeltaFrames: 12, Data: [4]byte{0x90, 60, 100, 0}}
		h.plugin.queueMIDIOut(noteOn)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		req := wire.AudioRequest{
			Inputs:    wire.AudioBuffers{NumChannels: 1, NumSamples: 64, Samples: make([]float32, 64)},
			Replacing: true,
		}
		resp, err := h.np.ProcessAudio(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Outputs.NumChannels).To(BeEquivalentTo(2))
		Expect(resp.Outputs.Samples).To(HaveLen(2 * 64))

		calls := h.host.Calls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].opcode).To(Equal(wire.AudioMasterProcessEvents))
		Expect(calls[0].hint.MIDI).NotTo(BeNil())
		Expect(calls[0].hint.MIDI.Events).To(Equal([]wire.MIDIEvent{noteOn}))
	})
})

var _ = Describe("S4: chunk save and restore", func() {
	It("ships exactly the bytes effGetChunk handed back", func() {
		h := newHarness()
		defer h.close()

		original := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}
		h.plugin.chunk = original

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.open(ctx)

		getResult, err := h.np.Dispatch(ctx, wire.EffGetChunk, 0, 0, 0, convert.Hint{})
		Expect(err).NotTo(HaveOccurred())
		Expect(getResult.Payload.Kind).To(Equal(wire.PayloadChunk))
		Expect(getResult.Payload.Chunk).To(Equal(original))

		h.plugin.chunk = nil
		_, err = h.np.Dispatch(ctx, wire.EffSetChunk, 0, int64(len(original)), 0, convert.Hint{Bytes: getResult.Payload.Chunk})
		Expect(err).NotTo(HaveOccurred())
		Expect(h.plugin.chunk).To(Equal(original))
	})
})

var _ = Describe("S5: speaker arrangement round trip", func() {
	It("reconstructs both the output and input arrangements byte-exact", func() {
		h := newHarness()
		defer h.close()

		out := wire.SpeakerArrangement{Flags: 1, Speakers: []wire.SpeakerProperties{{Type: 1}, {Type: 2}}}
		in := wire.SpeakerArrangement{Flags: 2, Speakers: []wire.SpeakerProperties{{Type: 3}}}
		h.plugin.outArrangement = &out
		h.plugin.inArrangement = &in

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.open(ctx)

		result, err := h.np.Dispatch(ctx, wire.EffGetSpeakerArrangement, 0, 0, 0, convert.Hint{})
		Expect(err).NotTo(HaveOccurred())

		hint, err := convert.BuildDispatchTable().Lookup(wire.EffGetSpeakerArrangement).FromResult(result)
		Expect(err).NotTo(HaveOccurred())
		Expect(hint.Speakers).NotTo(BeNil())
		Expect(hint.SpeakersOut).NotTo(BeNil())
		Expect(*hint.Speakers).To(Equal(out))
		Expect(*hint.SpeakersOut).To(Equal(in))
	})
})

var _ = Describe("S6: WH never attaches", func() {
	It("surfaces a startup failure promptly and fires a non-empty notification", func() {
		endpoint := rendezvous.NewEndpoint(GinkgoT().TempDir())
		listener, err := rendezvous.Listen(endpoint)
		Expect(err).NotTo(HaveOccurred())
		defer listener.Close()

		probeInterval := 50 * time.Millisecond
		ctx, cancel := context.WithTimeout(context.Background(), 2*probeInterval)
		defer cancel()

		started := time.Now()
		_, err = listener.Accept(ctx)
		elapsed := time.Since(started)

		Expect(err).To(HaveOccurred())
		Expect(elapsed).To(BeNumerically("<", 4*probeInterval))

		fake := &fakeNotifier{}
		notify.NotifyStartupFailure(context.Background(), fake, "VST2", "/plugins/does-not-matter.dll", err)

		Expect(fake.summaries).To(HaveLen(1))
		Expect(fake.summaries[0]).NotTo(BeEmpty())
		Expect(fake.bodies[0]).NotTo(BeEmpty())
	})
})

var _ = Describe("Channel FIFO ordering", func() {
	It("serves concurrent dispatch calls one at a time, in acquisition order", func() {
		h := newHarness()
		defer h.close()

		openCtx, openCancel := context.WithTimeout(context.Background(), time.Second)
		h.open(openCtx)
		openCancel()

		var mu sync.Mutex
		var received []int32
		h.plugin.onDispatch = func(_ wire.Opcode, index int32) {
			mu.Lock()
			received = append(received, index)
			mu.Unlock()
		}

		const n = 20
		var wg sync.WaitGroup
		var sent []int32
		for i := int32(0); i < n; i++ {
			wg.Add(1)
			go func(idx int32) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_, err := h.np.Dispatch(ctx, wire.EffGetParamName, idx, 0, 0, convert.Hint{})
				Expect(err).NotTo(HaveOccurred())
				mu.Lock()
				sent = append(sent, idx)
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()
		Expect(received).To(HaveLen(n))
		Expect(sent).To(Equal(received))
	})
})

var _ = Describe("No audio-thread blocking on dispatch", func() {
	It("lets a concurrent process_audio call finish while a slow dispatch call is still in flight", func() {
		h := newHarness()
		defer h.close()

		openCtx, openCancel := context.WithTimeout(context.Background(), time.Second)
		h.open(openCtx)
		openCancel()

		h.plugin.dispatchDelay[wire.EffGetProgramName] = 300 * time.Millisecond

		dispatchDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := h.np.Dispatch(ctx, wire.EffGetProgramName, 0, 0, 0, convert.Hint{})
			dispatchDone <- err
		}()

		// Give the slow dispatch call a head start onto the dispatch
		// channel before racing the audio call against it.
		time.Sleep(20 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		started := time.Now()
		_, err := h.np.ProcessAudio(ctx, wire.AudioRequest{
			Inputs:    wire.AudioBuffers{NumChannels: 1, NumSamples: 8, Samples: make([]float32, 8)},
			Replacing: true,
		})
		audioElapsed := time.Since(started)

		Expect(err).NotTo(HaveOccurred())
		Expect(audioElapsed).To(BeNumerically("<", 200*time.Millisecond))

		Expect(<-dispatchDone).NotTo(HaveOccurred())
	})
})
