package linker

import (
	"bytes"
	"reflect"
	"testing"
)

func sampleReport() *Report {
	return &Report{
		Target: "main.mi",
		Modules: []ModuleReport{
			{Name: "B", Path: "/lib/B.avo", Kind: KindBytecode, Status: StatusLinked,
				Linked: []string{"f_", "g_"}, Dropped: []string{"h_"}, BytesCopied: 120},
			{Name: "mathx", Kind: KindPlugin, Status: StatusLinked, Linked: []string{"sqrt"}},
			{Name: "gone", Kind: KindMissing, Status: StatusMissing, Message: "module not found"},
		},
	}
}

func TestReportRoundTrip(t *testing.T) {
	want := sampleReport()
	data, err := MarshalReport(want)
	if err != nil {
		t.Fatalf("MarshalReport: %v", err)
	}
	got, err := UnmarshalReport(data)
	if err != nil {
		t.Fatalf("UnmarshalReport: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestReportEncodingIsDeterministic(t *testing.T) {
	a, err := MarshalReport(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalReport(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding the same report twice differs")
	}
}

func TestReportQueries(t *testing.T) {
	r := sampleReport()
	if r.TotalBytes() != 120 {
		t.Errorf("TotalBytes = %d, want 120", r.TotalBytes())
	}
	if m, ok := r.Module("mathx"); !ok || m.Kind != KindPlugin {
		t.Errorf("Module(mathx) = %+v, %v", m, ok)
	}
	if _, ok := r.Module("nope"); ok {
		t.Error("Module(nope) found")
	}
}

func TestUnmarshalReportRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalReport([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("expected an error")
	}
}
