package server

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/OpenPrinting/goipp"

	"github.com/mzyy94/pkpgcounter/internal/config"
	"github.com/mzyy94/pkpgcounter/internal/inkcoverage"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

const ippContentType = "application/ipp"

const (
	ippJobCompleted = 9 // job-state
	ippPrinterIdle  = 3 // printer-state
)

// handleIPP answers the subset of IPP needed by an accounting backend:
// Print-Job counts the attached document and reports its impressions,
// nothing is printed.
func (h *handler) handleIPP(w http.ResponseWriter, r *http.Request) {
	s := h.opts.Settings.Get()
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)

	var req goipp.Message
	if err := req.Decode(r.Body); err != nil {
		slog.Debug("IPP request decode failed", "err", err)
		http.Error(w, "invalid IPP request", http.StatusBadRequest)
		return
	}

	var resp *goipp.Message
	switch op := goipp.Op(req.Code); op {
	case goipp.OpPrintJob:
		resp = h.ippPrintJob(r, &req, s)
	case goipp.OpValidateJob:
		resp = ippResponse(&req, goipp.StatusOk)
	case goipp.OpGetPrinterAttributes:
		resp = ippResponse(&req, goipp.StatusOk)
		h.addPrinterAttributes(r, resp)
	default:
		slog.Debug("IPP operation not supported", "op", op)
		resp = ippResponse(&req, goipp.StatusErrorOperationNotSupported)
	}

	var buf bytes.Buffer
	if err := resp.Encode(&buf); err != nil {
		slog.Warn("IPP response encode failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ippContentType)
	w.Write(buf.Bytes())
}

func ippResponse(req *goipp.Message, status goipp.Status) *goipp.Message {
	resp := goipp.NewResponse(req.Version, status, req.RequestID)
	resp.Operation.Add(goipp.MakeAttribute("attributes-charset", goipp.TagCharset, goipp.String("utf-8")))
	resp.Operation.Add(goipp.MakeAttribute("attributes-natural-language", goipp.TagLanguage, goipp.String("en-us")))
	return resp
}

// ippStatus maps an analysis failure to an IPP status code.
func ippStatus(err error) goipp.Status {
	var parseErr *pdl.FormatParseError
	switch {
	case errors.Is(err, pdl.ErrUnsupportedFormat), errors.Is(err, inkcoverage.ErrNoConverter):
		return goipp.StatusErrorDocumentFormatNotSupported
	case errors.Is(err, pdl.ErrEmptyInput), errors.As(err, &parseErr):
		return goipp.StatusErrorDocumentFormatError
	}
	return goipp.StatusErrorInternal
}

func ippString(attrs goipp.Attributes, name string) string {
	for _, a := range attrs {
		if a.Name == name && len(a.Values) > 0 {
			return a.Values[0].V.String()
		}
	}
	return ""
}

func (h *handler) ippPrintJob(r *http.Request, req *goipp.Message, s config.Settings) *goipp.Message {
	jobName := ippString(req.Operation, "job-name")
	if jobName == "" {
		jobName = "ipp-job"
	}
	user := ippString(req.Operation, "requesting-user-name")

	report := h.analyze(r.Context(), r.Body, jobName, s, nil)
	if report.Err != nil {
		slog.Info("IPP job rejected", "job", jobName, "user", user, "err", report.Err)
		resp := ippResponse(req, ippStatus(report.Err))
		resp.Operation.Add(goipp.MakeAttribute("status-message", goipp.TagText, goipp.String(report.Err.Error())))
		return resp
	}

	id := h.jobID.Add(1)
	pages := report.Result.Pages
	slog.Info("IPP job counted", "job", jobName, "user", user, "format", report.Result.Name, "pages", pages)

	resp := ippResponse(req, goipp.StatusOk)
	resp.Job.Add(goipp.MakeAttribute("job-id", goipp.TagInteger, goipp.Integer(id)))
	resp.Job.Add(goipp.MakeAttribute("job-uri", goipp.TagURI, goipp.String(h.printerURI(r)+"/"+strconv.Itoa(int(id)))))
	resp.Job.Add(goipp.MakeAttribute("job-state", goipp.TagEnum, goipp.Integer(ippJobCompleted)))
	resp.Job.Add(goipp.MakeAttribute("job-state-reasons", goipp.TagKeyword, goipp.String("job-completed-successfully")))
	resp.Job.Add(goipp.MakeAttribute("job-impressions", goipp.TagInteger, goipp.Integer(pages)))
	resp.Job.Add(goipp.MakeAttribute("job-media-sheets", goipp.TagInteger, goipp.Integer(pages)))
	resp.Job.Add(goipp.MakeAttribute("document-format-detected", goipp.TagText, goipp.String(report.Result.Name)))
	return resp
}

func (h *handler) addPrinterAttributes(r *http.Request, resp *goipp.Message) {
	resp.Printer.Add(goipp.MakeAttribute("printer-uri-supported", goipp.TagURI, goipp.String(h.printerURI(r))))
	resp.Printer.Add(goipp.MakeAttribute("printer-name", goipp.TagName, goipp.String(h.opts.Name)))
	resp.Printer.Add(goipp.MakeAttribute("printer-uuid", goipp.TagURI, goipp.String("urn:uuid:"+h.opts.UUID.String())))
	resp.Printer.Add(goipp.MakeAttribute("printer-state", goipp.TagEnum, goipp.Integer(ippPrinterIdle)))
	resp.Printer.Add(goipp.MakeAttribute("printer-is-accepting-jobs", goipp.TagBoolean, goipp.Boolean(true)))

	ops := goipp.MakeAttribute("operations-supported", goipp.TagEnum, goipp.Integer(goipp.OpPrintJob))
	ops.Values.Add(goipp.TagEnum, goipp.Integer(goipp.OpValidateJob))
	ops.Values.Add(goipp.TagEnum, goipp.Integer(goipp.OpGetPrinterAttributes))
	resp.Printer.Add(ops)

	formats := goipp.MakeAttribute("document-format-supported", goipp.TagMimeType, goipp.String("application/octet-stream"))
	formats.Values.Add(goipp.TagMimeType, goipp.String("application/pdf"))
	formats.Values.Add(goipp.TagMimeType, goipp.String("application/postscript"))
	formats.Values.Add(goipp.TagMimeType, goipp.String("application/vnd.hp-PCL"))
	formats.Values.Add(goipp.TagMimeType, goipp.String("application/vnd.hp-PCLXL"))
	formats.Values.Add(goipp.TagMimeType, goipp.String("image/tiff"))
	formats.Values.Add(goipp.TagMimeType, goipp.String("text/plain"))
	resp.Printer.Add(formats)
}
