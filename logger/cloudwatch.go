package logger

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// PutMetricData accepts at most this many datums per call.
const maxDatumsPerPut = 1000

type cloudWatchPutter interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

// systemSink publishes the runtime report and LogMetric values. It is
// disabled until InitCloudWatch succeeds.
type systemSink struct {
	mu        sync.RWMutex
	client    cloudWatchPutter
	namespace string
	dashboard string
}

var sink = &systemSink{namespace: "CVDFlow", dashboard: "CVDFlow-system"}

func (s *systemSink) get() (cloudWatchPutter, string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.namespace, s.dashboard
}

// InitCloudWatch creates the CloudWatch client. An empty region falls back to
// AWS_REGION; on failure publishing stays disabled and a warning is logged.
func InitCloudWatch(region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	sink.mu.Lock()
	sink.client = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		sink.namespace = namespace
	}
	if dashboard != "" {
		sink.dashboard = dashboard
	}
	ns := sink.namespace
	sink.mu.Unlock()

	log.WithFields(Fields{"region": cfg.Region, "namespace": ns}).Info("initialized CloudWatch client")
	CreateDefaultDashboard(ctx)
}

func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	client, namespace, _ := sink.get()
	if client == nil || len(data) == 0 {
		return
	}

	for start := 0; start < len(data); start += maxDatumsPerPut {
		end := min(start+maxDatumsPerPut, len(data))
		if _, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(namespace),
			MetricData: data[start:end],
		}); err != nil {
			GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}
	}
	GetLogger().WithComponent("cloudwatch").WithField("datums", len(data)).Debug("published metrics to CloudWatch")
}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
	Region  string     `json:"region,omitempty"`
}

func metricWidget(namespace, title, stat string, names ...string) dashboardWidget {
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, []string{namespace, n})
	}
	return dashboardWidget{
		Type:   "metric",
		Width:  12,
		Height: 6,
		Properties: widgetProperties{
			Metrics: rows,
			Period:  60,
			Stat:    stat,
			Title:   title,
		},
	}
}

func systemDashboardBody(namespace string) (string, error) {
	body, err := json.Marshal(map[string][]dashboardWidget{
		"widgets": {
			metricWidget(namespace, "System", "Average", "CPUPercent", "MemoryMB", "DiskMB"),
			metricWidget(namespace, "Market feed pipeline", "Maximum", "FramesRead", "CandlesStored", "TicksPublished", "ErrorsStream"),
		},
	})
	return string(body), err
}

// CreateDefaultDashboard puts the system dashboard once a client exists.
// Failures are logged only.
func CreateDefaultDashboard(ctx context.Context) {
	client, namespace, dashboard := sink.get()
	if client == nil {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	body, err := systemDashboardBody(namespace)
	if err != nil {
		log.WithError(err).Warn("failed to encode CloudWatch dashboard")
		return
	}
	if _, err := client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(dashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
