package wire

import (
	"bytes"
	"testing"

	"github.com/derkalaender/meshnow-go/internal/testutil"
	"github.com/derkalaender/meshnow-go/meshaddr"
)

func addr(b byte) meshaddr.Address {
	var a meshaddr.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func roundTrip(t *testing.T, p *Packet) *Packet {
	t.Helper()
	frame, err := Encode(p)
	testutil.MustOK(t, err)
	testutil.Fatal(t, len(frame) <= MaxLinkDatagram, "encoded frame exceeds MaxLinkDatagram: %d", len(frame))

	got, err := Decode(frame)
	testutil.MustOK(t, err)
	return got
}

func TestRoundTripEveryVariant(t *testing.T) {
	from, to := addr(0x01), addr(0x02)
	root := addr(0x03)

	cases := []Body{
		StatusBody{State: 2, Root: root, HasRoot: true},
		StatusBody{State: 1},
		SearchProbeBody{},
		SearchReplyBody{},
		ConnectRequestBody{},
		ConnectOkBody{Root: root},
		RoutingTableAddBody{Entry: addr(0x04)},
		RoutingTableRemBody{Entry: addr(0x05)},
		RootUnreachableBody{},
		RootReachableBody{Root: root},
		DataFragmentBody{FragID: 42, FragNum: 3, TotalSize: 900, Data: bytes.Repeat([]byte{0xab}, MaxFragPayload)},
		CustomDataBody{Data: []byte("hello mesh")},
	}

	for _, body := range cases {
		want := &Packet{ID: 0xdeadbeef, From: from, To: to, Variant: body.Variant(), Body: body}
		got := roundTrip(t, want)

		testutil.Fatal(t, got.ID == want.ID, "%s: id mismatch", body.Variant())
		testutil.Fatal(t, got.From == want.From, "%s: from mismatch", body.Variant())
		testutil.Fatal(t, got.To == want.To, "%s: to mismatch", body.Variant())
		testutil.Fatal(t, got.Variant == want.Variant, "%s: variant mismatch", body.Variant())
	}
}

func TestEncodeDeterministic(t *testing.T) {
	p := &Packet{ID: 7, From: addr(0x10), To: addr(0x20), Variant: VCustomData, Body: CustomDataBody{Data: []byte("same every time")}}
	a, err := Encode(p)
	testutil.MustOK(t, err)
	b, err := Encode(p)
	testutil.MustOK(t, err)
	testutil.Fatal(t, bytes.Equal(a, b), "Encode is not deterministic")
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, FixedHeader-1))
	testutil.MustErr(t, err)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	p := &Packet{ID: 1, From: addr(0x01), To: addr(0x02), Variant: VSearchProbe, Body: SearchProbeBody{}}
	frame, err := Encode(p)
	testutil.MustOK(t, err)
	frame[0] ^= 0xff
	_, err = Decode(frame)
	testutil.MustErr(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	p := &Packet{ID: 1, From: addr(0x01), To: addr(0x02), Variant: VSearchProbe, Body: SearchProbeBody{}}
	frame, err := Encode(p)
	testutil.MustOK(t, err)
	frame[19] = 200
	_, err = Decode(frame)
	testutil.MustErr(t, err)
}

func TestDecodeRejectsOversizeFragment(t *testing.T) {
	p := &Packet{ID: 1, From: addr(0x01), To: addr(0x02), Variant: VDataFragment,
		Body: DataFragmentBody{FragID: 1, FragNum: 0, TotalSize: 10, Data: []byte{1, 2, 3}}}
	frame, err := Encode(p)
	testutil.MustOK(t, err)
	_, err = Decode(frame)
	testutil.MustErr(t, err) // declared TotalSize=10 but only 3 bytes present
}

func TestMaxCustomPayloadFitsOneFrame(t *testing.T) {
	p := &Packet{ID: 1, From: addr(0x01), To: addr(0x02), Variant: VCustomData,
		Body: CustomDataBody{Data: bytes.Repeat([]byte{0x7}, MaxCustomPayload)}}
	frame, err := Encode(p)
	testutil.MustOK(t, err)
	testutil.Fatal(t, len(frame) == MaxLinkDatagram, "expected exactly MaxLinkDatagram bytes, got %d", len(frame))

	tooBig := CustomDataBody{Data: bytes.Repeat([]byte{0x7}, MaxCustomPayload+1)}
	_, err = Encode(&Packet{ID: 1, From: addr(0x01), To: addr(0x02), Variant: VCustomData, Body: tooBig})
	testutil.MustErr(t, err)
}
