/*
	Package pubdata provides cached ETL accessors for public U.S. government statistical datasets.

It offers a shared "download once, cache as columnar partition, read back with filters"
mechanism, used by the dataset subpackages (naics, cbp, qcew, agcensus, bds, bea, geo, ers).

# Overview

Every dataset accessor follows the same shape: a raw source file (CSV, TSV, fixed-width
text, Excel workbook or zipped shapefile) is downloaded from a government server on first
use, normalized into typed rows, and persisted as an immutable parquet partition keyed by
the request arguments (commonly a year, sometimes year plus geography). Subsequent calls
read the partition back without touching the network.

# Core Architecture

The package is organized around four pieces:

  - Env - immutable configuration (data root, filesystem, HTTP client, logger, clock,
    retry policy) constructed once and passed to every component.
  - Fetch - resolves a remote URL to a local file, downloading atomically with bounded
    retries when the file is absent.
  - Store - a generic get-or-build cache keyed by a path template, parameterized by a
    Codec that serializes the payload (parquet for tabular rows, JSON for everything else).
  - Dataset - a directory of partition files read back as one logical table, with
    partition-key values reconstructed from directory names and row filters applied at
    read time.

# Basic Usage

Creating an environment:

	env, err := pubdata.New("data")
	if err != nil {
	    log.Fatalf("failed to create environment: %v", err)
	}

Reading a dataset (QCEW annual files for three years):

	rows, err := qcew.Get(ctx, env, []pubdata.Year{2019, 2020, 2021},
	    qcew.WithFilter(func(r qcew.Row) bool { return r.AgglvlCode == "70" }))

Missing partitions are built on demand; present partitions are never rebuilt. A cache
entry is only ever removed by the dataset's Cleanup function, which deletes the whole
processed tree (and optionally the raw downloads).

# Configuration Options

Env can be configured with various options:

	env, err := pubdata.New(
	    "data",
	    pubdata.WithFs(myCustomFs),
	    pubdata.WithLogger(logger),
	    pubdata.WithHTTPClient(client),
	)

# File Structure

The data root uses the following directory structure:

	data/
	├── source/
	│   └── [dataset]/        raw downloads, kept verbatim
	└── [dataset]/
	    ├── manifest.json     partition content hashes
	    └── [key dirs]/
	        └── part.parquet  one immutable partition per key

# Error Handling

The package defines an explicit error taxonomy:

  - ErrUnknownKey: the requested key is absent from a dataset's URL table
  - DownloadError: network failure or non-2xx response after retries
  - SchemaError: a source file does not match the expected column layout
  - CorruptError: a cached partition could not be read back
  - BuildError: per-key failure summary from a batch build

Configuration and schema errors abort the current key's build; download errors are
retried with backoff before surfacing; a corrupt partition is treated as a cache miss
and rebuilt once.
*/
package pubdata
