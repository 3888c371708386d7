package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
	"github.com/noah-isme/trn-registry-api/pkg/export"
)

// ExportFormat selects the worklist rendering.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type taskLister interface {
	List(ctx context.Context, filter models.ResolutionTaskFilter) ([]models.ResolutionTask, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportFile is a rendered worklist ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders the support worklist of open resolution tasks.
type ExportService struct {
	tasks  taskLister
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(tasks taskLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{tasks: tasks, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

var worklistColumns = []export.Column{
	{Title: "Reference", Width: 1.2},
	{Title: "Task type", Width: 2},
	{Title: "Channel", Width: 0.9},
	{Title: "Asserted name", Width: 2},
	{Title: "Date of birth", Width: 1.1},
	{Title: "Candidates", Width: 0.9},
	{Title: "Best match", Width: 2.6},
	{Title: "Opened", Width: 1.4},
	{Title: "Age (days)", Width: 0.8},
}

// ExportWorklist renders open tasks, oldest first.
func (s *ExportService) ExportWorklist(ctx context.Context, format ExportFormat, taskType models.TaskType) (*ExportFile, error) {
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	tasks, err := s.tasks.List(ctx, models.ResolutionTaskFilter{
		Status:   []models.TaskStatus{models.TaskStatusOpen},
		TaskType: taskType,
		Limit:    500,
	})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	dataset := export.Dataset{
		Title:   fmt.Sprintf("Open identity resolution tasks (%s)", now.Format("2006-01-02 15:04 MST")),
		Columns: worklistColumns,
		Rows:    make([][]string, 0, len(tasks)),
	}
	for i := range tasks {
		row, err := worklistRow(&tasks[i], now)
		if err != nil {
			s.logger.Warn("skipping undecodable task", zap.String("reference", tasks[i].Reference), zap.Error(err))
			continue
		}
		dataset.Rows = append(dataset.Rows, row)
	}

	file := &ExportFile{Filename: fmt.Sprintf("worklist-%s.%s", now.Format("20060102-150405"), format)}
	switch format {
	case ExportFormatCSV:
		file.ContentType = "text/csv"
		file.Body, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		file.ContentType = "application/pdf"
		file.Body, err = s.pdf.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render worklist")
	}
	s.logger.Info("worklist exported", zap.String("format", string(format)), zap.Int("rows", len(dataset.Rows)))
	return file, nil
}

func worklistRow(task *models.ResolutionTask, now time.Time) ([]string, error) {
	assertion, err := task.DecodeAssertion()
	if err != nil {
		return nil, err
	}
	candidates, err := task.DecodeCandidates()
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(strings.Join([]string{assertion.FirstName, assertion.MiddleName, assertion.LastName}, " "))
	name = strings.Join(strings.Fields(name), " ")
	dob := ""
	if assertion.DateOfBirth != nil {
		dob = assertion.DateOfBirth.Format(models.DateLayout)
	}
	best := ""
	if len(candidates) > 0 {
		attrs := make([]string, len(candidates[0].MatchedAttributes))
		for i, a := range candidates[0].MatchedAttributes {
			attrs[i] = string(a)
		}
		best = fmt.Sprintf("%s (%s)", candidates[0].PersonID, strings.Join(attrs, ", "))
	}
	age := int(now.Sub(task.CreatedAt).Hours() / 24)
	return []string{
		task.Reference,
		string(task.TaskType),
		string(assertion.Channel),
		name,
		dob,
		strconv.Itoa(len(candidates)),
		best,
		task.CreatedAt.UTC().Format("2006-01-02 15:04"),
		strconv.Itoa(age),
	}, nil
}
