package fiomark

func run(id int64, host, protocol, model, driveType, bs, pattern string, iops, latency, bandwidth float64) TestRun {
	r := TestRun{
		ID:               id,
		Timestamp:        "2024-03-01T10:00:00Z",
		TestName:         String("fio"),
		BlockSize:        BlockSize(bs),
		ReadWritePattern: pattern,
		QueueDepth:       32,
		Duration:         60,
		IOPS:             Float(iops),
		AvgLatency:       Float(latency),
		Bandwidth:        Float(bandwidth),
	}
	if host != "" {
		r.Hostname = String(host)
	}
	if protocol != "" {
		r.Protocol = String(protocol)
	}
	if model != "" {
		r.DriveModel = String(model)
	}
	if driveType != "" {
		r.DriveType = String(driveType)
	}
	return r
}

func sampleRuns() []TestRun {
	return []TestRun{
		run(1, "h1", "tcp", "D1", "NVMe", "4k", "randread", 1000, 1.5, 4000),
		run(2, "h1", "tcp", "D1", "NVMe", "8k", "randwrite", 500, 3.0, 2000),
		run(3, "h2", "rdma", "D2", "SSD", "4k", "randread", 800, 2.0, 3200),
		run(4, "h2", "rdma", "D2", "SSD", "1M", "read", 200, 10.0, 200),
		run(5, "h3", "tcp", "D1", "HDD", "4k", "randread", 150, 8.0, 600),
	}
}
