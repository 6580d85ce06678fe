// Package packmatic encodes a sequence of logical files into a ZIP64
// archive byte stream, incrementally and without buffering the archive or
// knowing entry sizes in advance.
//
// The encoder is pull-driven: each call to [Encoder.Next] produces the next
// chunk of archive bytes, so a downstream sink (HTTP response, socket,
// file) naturally backpressures the encoder by pacing its calls. Entry
// checksums and sizes are computed as data flows through and are written in
// trailing data descriptors; the central directory carries full ZIP64
// metadata, so any entry or archive may exceed 4 GiB.
//
// # Quick Start
//
// Build a manifest, start an encoder, and stream it to a writer:
//
//	manifest, err := packmatic.NewManifest(
//	    &packmatic.Entry{Path: "report.csv", Source: packmatic.File("/tmp/report.csv")},
//	    &packmatic.Entry{Path: "logo.png", Source: packmatic.URL("https://example.com/logo.png")},
//	    &packmatic.Entry{Path: "readme.txt", Source: packmatic.Content([]byte("hello"))},
//	)
//	if err != nil {
//	    return err
//	}
//	enc, err := packmatic.NewEncoder(ctx, manifest)
//	if err != nil {
//	    return err
//	}
//	_, err = enc.WriteTo(w)
//
// # Events and Error Policy
//
// An optional event handler observes stream and entry lifecycle points and
// may splice new entries onto the front of the pending queue; see [Handler]
// and [InjectEntry]. Per-entry open and read failures are governed by the
// [ErrorPolicy]: with [ErrorPolicySkip] a failed entry is recorded and the
// stream moves on, with [ErrorPolicyHalt] (the default) the first failure
// terminates the whole stream.
package packmatic
