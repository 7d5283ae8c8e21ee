// Package storage keeps the flow history of a meter on a byte-addressable
// non-volatile device.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌──────────────────────────┐
//	│  Recorder   │────▶│   History   │────▶│ hour / day / month rings │
//	│ (totaliser) │     │ (bus lock)  │     │  (header + records)      │
//	└─────────────┘     └─────────────┘     └──────────────────────────┘
//	                           │                         │
//	                           ▼                         ▼
//	                    ┌─────────────┐           ┌─────────────┐
//	                    │ Report /    │           │   Device    │
//	                    │ Parquet     │           │ (mem, mmap) │
//	                    └─────────────┘           └─────────────┘
//
// The storage system provides:
//   - Three fixed-capacity rings of signed 32-bit flow deltas
//   - A CRC-checked header per ring, recovered as empty when corrupt
//   - Zero-filled gaps and cursor rewinds when the clock jumps
//   - DDSketch-based summaries and Parquet export of stored records
package storage
